package sqlite

import "strings"

// flatColumns is the canonical column order of the analytic projection. The
// flatten step in internal/enrich produces maps keyed by these names; the
// CSV exporter emits them in this order.
var flatColumns = []string{
	"incident_id",
	// education & institution
	"is_education_related",
	"institution_name",
	"institution_type",
	"country",
	"country_code",
	"region",
	"city",
	// attack details
	"attack_category",
	"attack_vector",
	"initial_access_vector",
	"initial_access_description",
	"ransomware_family",
	"threat_actor_name",
	"threat_actor_category",
	"threat_actor_motivation",
	"threat_actor_claim_url",
	// ransom
	"was_ransom_demanded",
	"ransom_amount",
	"ransom_currency",
	"ransom_cryptocurrency",
	"ransom_paid",
	"ransom_paid_amount",
	"ransom_negotiated",
	"ransom_deadline_days",
	"decryptor_received",
	"decryptor_worked",
	// data impact
	"data_breached",
	"data_exfiltrated",
	"data_encrypted",
	"data_destroyed",
	"data_categories",
	"records_affected_exact",
	"records_affected_min",
	"records_affected_max",
	"data_volume_gb",
	// system impact
	"systems_affected",
	"critical_systems_affected",
	"network_compromised",
	"domain_admin_compromised",
	"backup_compromised",
	"systems_encrypted_count",
	"servers_affected_count",
	"endpoints_affected_count",
	// operational impact
	"operational_impacts",
	"outage_duration_hours",
	"downtime_days",
	"partial_service_days",
	"classes_cancelled",
	"exams_postponed",
	"graduation_delayed",
	// user impact
	"students_affected",
	"staff_affected",
	"faculty_affected",
	"alumni_affected",
	"patients_affected",
	"total_individuals_affected",
	// financial impact
	"estimated_total_cost_usd",
	"recovery_cost_usd",
	"legal_cost_usd",
	"notification_cost_usd",
	"lost_revenue_usd",
	"insurance_claim",
	"insurance_payout_usd",
	"business_impact_severity",
	// regulatory impact
	"applicable_regulations",
	"breach_notification_required",
	"notification_sent",
	"investigation_opened",
	"fine_imposed",
	"fine_amount_usd",
	"lawsuits_filed",
	"class_action_filed",
	"settlement_amount_usd",
	// recovery
	"recovery_method",
	"recovery_duration_days",
	"recovery_started_date",
	"recovery_completed_date",
	"mttd_hours",
	"mttr_hours",
	"security_improvements",
	"incident_response_firm",
	"forensics_firm",
	"law_enforcement_involved",
	// transparency
	"public_disclosure",
	"public_disclosure_date",
	"disclosure_delay_days",
	"disclosure_source",
	"transparency_level",
	// cross-incident
	"attack_campaign_name",
	"sector_targeting_pattern",
	// severity & status
	"incident_severity",
	"incident_status",
	"incident_date",
	"dwell_time_days",
	// timeline & MITRE blobs
	"timeline_json",
	"timeline_events_count",
	"mitre_techniques_json",
	"mitre_techniques_count",
	// summary
	"enriched_summary",
	"extraction_notes",
	// metadata
	"created_at",
	"updated_at",
}

// Columns that carry non-TEXT affinity in the flat table.
var flatIntColumns = map[string]bool{
	"is_education_related":         true,
	"was_ransom_demanded":          true,
	"ransom_paid":                  true,
	"ransom_negotiated":            true,
	"decryptor_received":           true,
	"decryptor_worked":             true,
	"data_breached":                true,
	"data_exfiltrated":             true,
	"data_encrypted":               true,
	"data_destroyed":               true,
	"records_affected_exact":       true,
	"records_affected_min":         true,
	"records_affected_max":         true,
	"critical_systems_affected":    true,
	"network_compromised":          true,
	"domain_admin_compromised":     true,
	"backup_compromised":           true,
	"systems_encrypted_count":      true,
	"servers_affected_count":       true,
	"endpoints_affected_count":     true,
	"classes_cancelled":            true,
	"exams_postponed":              true,
	"graduation_delayed":           true,
	"students_affected":            true,
	"staff_affected":               true,
	"faculty_affected":             true,
	"alumni_affected":              true,
	"patients_affected":            true,
	"total_individuals_affected":   true,
	"insurance_claim":              true,
	"breach_notification_required": true,
	"notification_sent":            true,
	"investigation_opened":         true,
	"fine_imposed":                 true,
	"lawsuits_filed":               true,
	"class_action_filed":           true,
	"law_enforcement_involved":     true,
	"public_disclosure":            true,
	"timeline_events_count":        true,
	"mitre_techniques_count":       true,
}

var flatRealColumns = map[string]bool{
	"ransom_amount":            true,
	"ransom_paid_amount":       true,
	"ransom_deadline_days":     true,
	"data_volume_gb":           true,
	"outage_duration_hours":    true,
	"downtime_days":            true,
	"partial_service_days":     true,
	"estimated_total_cost_usd": true,
	"recovery_cost_usd":        true,
	"legal_cost_usd":           true,
	"notification_cost_usd":    true,
	"lost_revenue_usd":         true,
	"insurance_payout_usd":     true,
	"fine_amount_usd":          true,
	"settlement_amount_usd":    true,
	"recovery_duration_days":   true,
	"mttd_hours":               true,
	"mttr_hours":               true,
	"disclosure_delay_days":    true,
	"dwell_time_days":          true,
}

var flatTableDDL = buildFlatTableDDL()

func buildFlatTableDDL() string {
	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS incident_enrichments_flat (\n")
	for i, col := range flatColumns {
		if i > 0 {
			b.WriteString(",\n")
		}
		b.WriteString("\t")
		b.WriteString(col)
		switch {
		case col == "incident_id":
			b.WriteString(" TEXT PRIMARY KEY")
		case col == "created_at" || col == "updated_at":
			b.WriteString(" TEXT NOT NULL")
		case flatIntColumns[col]:
			b.WriteString(" INTEGER")
		case flatRealColumns[col]:
			b.WriteString(" REAL")
		default:
			b.WriteString(" TEXT")
		}
	}
	b.WriteString(",\n\tFOREIGN KEY (incident_id) REFERENCES incidents(incident_id) ON DELETE CASCADE\n)")
	return b.String()
}
