package enrich

import (
	"encoding/json"

	"github.com/eduthreat/cti-pipeline/internal/domain"
	"github.com/eduthreat/cti-pipeline/internal/geo"
)

// Flatten projects a typed enrichment result onto the analytic column set of
// incident_enrichments_flat. Values come from the normalized object; the
// parent incident supplies location fallbacks for fields the article never
// mentioned.
func Flatten(r *Result, incident *domain.Incident) map[string]any {
	obj := r.Normalized
	flat := make(map[string]any, 96)

	flat["is_education_related"] = r.IsEducationRelated
	flat["institution_name"] = valueOr(obj["institution_name"], ptrValue(incident.UniversityName))
	flat["institution_type"] = valueOr(obj["institution_type"], deref(incident.InstitutionType))
	flat["region"] = valueOr(obj["region"], deref(incident.Region))
	flat["city"] = valueOr(obj["city"], deref(incident.City))

	country := stringAt(obj, "country")
	if country == "" {
		country = domain.StrOrEmpty(incident.Country)
	}
	if country != "" {
		normalized := geo.NormalizeCountry(country)
		flat["country"] = normalized
		if code := geo.CountryCode(normalized); code != "" {
			flat["country_code"] = code
		}
	}
	if code := stringAt(obj, "country_code"); code != "" {
		flat["country_code"] = code
	}

	// Attack details
	copyKeys(flat, obj,
		"attack_category", "attack_vector", "initial_access_description",
		"ransomware_family", "threat_actor_name", "threat_actor_category",
		"threat_actor_motivation", "threat_actor_claim_url",
	)
	flat["initial_access_vector"] = obj["attack_vector"]
	if flat["threat_actor_claim_url"] == nil && incident.LeakSiteURL != nil {
		flat["threat_actor_claim_url"] = *incident.LeakSiteURL
	}

	// Ransom
	copyKeys(flat, obj,
		"was_ransom_demanded", "ransom_currency", "ransom_cryptocurrency",
		"ransom_paid", "ransom_paid_amount", "ransom_negotiated",
		"ransom_deadline_days", "decryptor_received", "decryptor_worked",
	)
	flat["ransom_amount"] = valueOr(obj["ransom_amount"], obj["ransom_amount_exact"])

	// Data impact
	copyKeys(flat, obj,
		"data_breached", "data_exfiltrated", "data_encrypted",
		"data_destroyed", "records_affected_exact", "records_affected_min",
		"records_affected_max", "data_volume_gb",
	)
	flat["data_categories"] = jsonList(obj["data_categories"])

	// System impact
	copyKeys(flat, obj,
		"critical_systems_affected", "network_compromised",
		"domain_admin_compromised", "backup_compromised",
		"systems_encrypted_count", "servers_affected_count",
		"endpoints_affected_count",
	)
	flat["systems_affected"] = jsonList(obj["systems_affected"])

	// Operational impact
	copyKeys(flat, obj,
		"outage_duration_hours", "downtime_days", "partial_service_days",
	)
	flat["operational_impacts"] = jsonList(obj["operational_impacts"])
	flat["classes_cancelled"] = listContains(obj["operational_impacts"], "classes_cancelled")
	flat["exams_postponed"] = listContains(obj["operational_impacts"], "exams_postponed")
	flat["graduation_delayed"] = listContains(obj["operational_impacts"], "graduation_delayed")

	// User impact
	copyKeys(flat, obj,
		"students_affected", "staff_affected", "faculty_affected",
		"alumni_affected", "patients_affected", "total_individuals_affected",
	)

	// Financial impact
	copyKeys(flat, obj,
		"estimated_total_cost_usd", "recovery_cost_usd", "legal_cost_usd",
		"notification_cost_usd", "lost_revenue_usd", "insurance_claim",
		"insurance_payout_usd", "business_impact_severity",
	)

	// Regulatory impact
	copyKeys(flat, obj,
		"breach_notification_required", "notification_sent",
		"investigation_opened", "fine_imposed", "fine_amount_usd",
		"lawsuits_filed", "class_action_filed", "settlement_amount_usd",
	)
	flat["applicable_regulations"] = jsonList(obj["applicable_regulations"])

	// Recovery
	copyKeys(flat, obj,
		"recovery_method", "recovery_duration_days", "recovery_started_date",
		"recovery_completed_date", "mttd_hours", "mttr_hours",
		"law_enforcement_involved",
	)
	flat["security_improvements"] = jsonList(obj["security_improvements"])
	flat["incident_response_firm"] = obj["ir_firm_engaged"]
	flat["forensics_firm"] = obj["forensics_firm_engaged"]

	// Transparency
	copyKeys(flat, obj,
		"public_disclosure", "public_disclosure_date",
		"disclosure_delay_days", "disclosure_source", "transparency_level",
	)

	// Cross-incident and classification
	copyKeys(flat, obj,
		"attack_campaign_name", "sector_targeting_pattern",
		"incident_severity", "incident_status", "incident_date",
		"dwell_time_days", "extraction_notes",
	)

	// Timeline and MITRE blobs
	if tj := r.TimelineJSON(); tj != "" {
		flat["timeline_json"] = tj
	}
	flat["timeline_events_count"] = len(r.Timeline)
	if mj := r.MitreJSON(); mj != "" {
		flat["mitre_techniques_json"] = mj
	}
	flat["mitre_techniques_count"] = len(r.MitreTechniques)

	flat["enriched_summary"] = r.EnrichedSummary

	// Drop nils so storage sees explicit NULLs only once.
	for k, v := range flat {
		if v == nil {
			delete(flat, k)
		}
	}

	return flat
}

func copyKeys(dst map[string]any, src map[string]any, keys ...string) {
	for _, k := range keys {
		if v, ok := src[k]; ok && v != nil {
			dst[k] = v
		}
	}
}

func valueOr(v any, fallback any) any {
	if v != nil {
		if s, ok := v.(string); ok && s == "" {
			return fallback
		}
		return v
	}
	return fallback
}

func deref(s *string) any {
	if s == nil || *s == "" {
		return nil
	}
	return *s
}

func ptrValue(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// jsonList serializes a list value as a JSON array string for a TEXT column.
func jsonList(v any) any {
	list, ok := v.([]any)
	if !ok || len(list) == 0 {
		return nil
	}
	b, err := json.Marshal(list)
	if err != nil {
		return nil
	}
	return string(b)
}

func listContains(v any, needle string) any {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	for _, item := range list {
		if s, ok := item.(string); ok && s == needle {
			return true
		}
	}
	return false
}
