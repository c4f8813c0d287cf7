// Package enrich implements the Phase 2 enrichment core: prompt
// construction, permissive-to-strict response normalization, coverage
// scoring, the education gate, and the flat analytic projection.
package enrich

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// ExtractionSchema is the JSON Schema handed to the model and used to
// validate normalized responses. Enum sets are closed; the normalization
// pass maps free-form values onto them before validation.
const ExtractionSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "Cyber Threat Intelligence - Educational Sector Incident",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "is_edu_cyber_incident": {"type": "boolean"},
    "education_relevance_reasoning": {"type": ["string", "null"]},
    "institution_name": {"type": ["string", "null"]},
    "institution_aliases": {"type": ["array", "null"], "items": {"type": "string"}},
    "institution_type": {"type": ["string", "null"], "enum": [
      "university_public", "university_private", "university_research",
      "community_college", "technical_college", "vocational_school",
      "k12_public_school", "k12_private_school", "k12_charter_school",
      "school_district", "research_institute", "research_center",
      "medical_school", "university_hospital", "teaching_hospital",
      "online_university", "consortium", "education_department",
      "education_ministry", "student_loan_servicer", "education_nonprofit",
      "education_vendor", "unknown", null]},
    "institution_size": {"type": ["string", "null"], "enum": [
      "small_under_5k", "medium_5k_20k", "large_20k_50k", "very_large_over_50k", "unknown", null]},
    "country": {"type": ["string", "null"]},
    "country_code": {"type": ["string", "null"], "pattern": "^[A-Z]{2}$"},
    "region": {"type": ["string", "null"]},
    "city": {"type": ["string", "null"]},
    "incident_severity": {"type": ["string", "null"], "enum": [
      "critical", "high", "medium", "low", "informational", null]},
    "incident_status": {"type": ["string", "null"], "enum": [
      "ongoing", "contained", "resolved", "unknown", null]},
    "incident_date": {"type": ["string", "null"], "pattern": "^\\d{4}-\\d{2}-\\d{2}$"},
    "incident_date_precision": {"type": ["string", "null"], "enum": [
      "exact", "approximate", "month_only", "year_only", "unknown", null]},
    "discovery_date": {"type": ["string", "null"], "pattern": "^\\d{4}-\\d{2}-\\d{2}$"},
    "publication_date": {"type": ["string", "null"], "pattern": "^\\d{4}-\\d{2}-\\d{2}$"},
    "dwell_time_days": {"type": ["number", "null"]},
    "timeline": {"type": ["array", "null"], "items": {
      "type": "object",
      "properties": {
        "date": {"type": ["string", "null"], "pattern": "^\\d{4}-\\d{2}-\\d{2}$"},
        "date_precision": {"type": ["string", "null"], "enum": ["day", "month", "year", "approximate", null]},
        "event_description": {"type": ["string", "null"]},
        "event_type": {"type": ["string", "null"], "enum": [
          "initial_access", "reconnaissance", "lateral_movement",
          "privilege_escalation", "data_exfiltration", "encryption_started",
          "ransom_demand", "discovery", "containment", "eradication",
          "recovery", "disclosure", "notification", "investigation",
          "remediation", "law_enforcement_contact", "public_statement",
          "systems_restored", "other", null]},
        "actor_attribution": {"type": ["string", "null"]},
        "indicators": {"type": ["array", "null"], "items": {"type": "string"}}
      }
    }},
    "attack_category": {"type": ["string", "null"], "enum": [
      "ransomware_encryption", "ransomware_double_extortion",
      "ransomware_triple_extortion", "ransomware_data_leak_only",
      "phishing_credential_harvest", "phishing_malware_delivery",
      "spear_phishing", "whaling", "business_email_compromise", "smishing",
      "vishing", "data_breach_external", "data_breach_internal",
      "data_exposure_misconfiguration", "data_leak_accidental",
      "ddos_volumetric", "ddos_application", "ddos_protocol",
      "malware_trojan", "malware_worm", "malware_backdoor", "malware_rootkit",
      "malware_cryptominer", "malware_infostealer", "malware_rat",
      "malware_botnet", "unauthorized_access", "privilege_escalation",
      "credential_stuffing", "brute_force", "password_spraying",
      "web_defacement", "sql_injection", "xss_attack", "api_abuse",
      "insider_malicious", "insider_negligent", "insider_compromised",
      "supply_chain_software", "supply_chain_hardware",
      "supply_chain_service_provider", "third_party_compromise",
      "social_engineering", "physical_breach", "account_takeover",
      "extortion_no_ransomware", "hacktivism", "espionage", "sabotage",
      "fraud", "unknown", "other", null]},
    "secondary_attack_categories": {"type": ["array", "null"], "items": {"type": "string"}},
    "attack_vector": {"type": ["string", "null"], "enum": [
      "phishing_email", "spear_phishing_email", "malicious_attachment",
      "malicious_link", "business_email_compromise", "stolen_credentials",
      "credential_stuffing", "brute_force", "password_spraying",
      "credential_phishing", "session_hijacking",
      "vulnerability_exploit_known", "vulnerability_exploit_zero_day",
      "unpatched_system", "misconfiguration", "default_credentials",
      "drive_by_download", "watering_hole", "malvertising", "sql_injection",
      "xss", "csrf", "ssrf", "path_traversal", "exposed_service",
      "exposed_rdp", "exposed_vpn", "exposed_ssh", "exposed_database",
      "exposed_api", "man_in_the_middle", "supply_chain_compromise",
      "third_party_vendor", "software_update_compromise",
      "trusted_relationship", "social_engineering", "pretexting", "baiting",
      "tailgating", "usb_drop", "insider_access", "former_employee",
      "cloud_misconfiguration", "api_key_exposure",
      "storage_bucket_exposure", "dns_hijacking", "bgp_hijacking",
      "sim_swapping", "unknown", "other", null]},
    "initial_access_description": {"type": ["string", "null"]},
    "attack_chain": {"type": ["array", "null"], "items": {"type": "string", "enum": [
      "reconnaissance", "resource_development", "initial_access", "execution",
      "persistence", "privilege_escalation", "defense_evasion",
      "credential_access", "discovery", "lateral_movement", "collection",
      "command_and_control", "exfiltration", "impact"]}},
    "vulnerabilities_exploited": {"type": ["array", "null"], "items": {
      "type": "object",
      "properties": {
        "cve_id": {"type": ["string", "null"], "pattern": "^CVE-\\d{4}-\\d+$"},
        "vulnerability_name": {"type": ["string", "null"]},
        "vulnerability_type": {"type": ["string", "null"], "enum": [
          "remote_code_execution", "privilege_escalation",
          "authentication_bypass", "sql_injection", "xss", "ssrf",
          "deserialization", "path_traversal", "buffer_overflow",
          "memory_corruption", "information_disclosure", "denial_of_service",
          "zero_day", "other", null]},
        "affected_product": {"type": ["string", "null"]},
        "cvss_score": {"type": ["number", "null"], "minimum": 0, "maximum": 10}
      }
    }},
    "mitre_attack_techniques": {"type": ["array", "null"], "items": {
      "type": "object",
      "properties": {
        "technique_id": {"type": ["string", "null"], "pattern": "^T\\d{4}(\\.\\d{3})?$"},
        "technique_name": {"type": ["string", "null"]},
        "tactic": {"type": ["string", "null"], "enum": [
          "reconnaissance", "resource_development", "initial_access",
          "execution", "persistence", "privilege_escalation",
          "defense_evasion", "credential_access", "discovery",
          "lateral_movement", "collection", "command_and_control",
          "exfiltration", "impact", null]},
        "description": {"type": ["string", "null"]},
        "sub_techniques": {"type": ["array", "null"], "items": {"type": "string"}}
      }
    }},
    "threat_actor_claimed": {"type": ["boolean", "null"]},
    "threat_actor_name": {"type": ["string", "null"]},
    "threat_actor_aliases": {"type": ["array", "null"], "items": {"type": "string"}},
    "threat_actor_category": {"type": ["string", "null"], "enum": [
      "apt_nation_state", "apt_state_sponsored", "cybercriminal_organized",
      "cybercriminal_individual", "ransomware_gang", "ransomware_affiliate",
      "hacktivist", "insider_threat", "script_kiddie", "competitor",
      "unknown", "other", null]},
    "threat_actor_motivation": {"type": ["string", "null"], "enum": [
      "financial_gain", "espionage", "hacktivism", "sabotage",
      "personal_grievance", "notoriety", "research_theft",
      "competitive_advantage", "unknown", null]},
    "threat_actor_origin_country": {"type": ["string", "null"]},
    "threat_actor_claim_url": {"type": ["string", "null"]},
    "ransomware_family": {"type": ["string", "null"], "enum": [
      "lockbit", "lockbit_2", "lockbit_3", "blackcat_alphv", "cl0p_clop",
      "akira", "play", "8base", "bianlian", "royal", "black_basta", "medusa",
      "rhysida", "hunters_international", "inc_ransom", "vice_society",
      "hive", "conti", "ryuk", "revil_sodinokibi", "darkside", "blackmatter",
      "maze", "netwalker", "ragnar_locker", "avaddon", "cuba",
      "pysa_mespinoza", "babuk", "grief", "snatch", "quantum", "karakurt",
      "lorenz", "noescape", "cactus", "trigona", "money_message", "nokoyawa",
      "ransomhouse", "daixin", "unknown", "other", null]},
    "malware_families": {"type": ["array", "null"], "items": {"type": "string"}},
    "attacker_tools": {"type": ["array", "null"], "items": {"type": "string"}},
    "was_ransom_demanded": {"type": ["boolean", "null"]},
    "ransom_amount": {"type": ["number", "null"]},
    "ransom_amount_min": {"type": ["number", "null"]},
    "ransom_amount_max": {"type": ["number", "null"]},
    "ransom_amount_exact": {"type": ["number", "null"]},
    "ransom_currency": {"type": ["string", "null"]},
    "ransom_cryptocurrency": {"type": ["string", "null"], "enum": [
      "bitcoin", "monero", "ethereum", "other", "unknown", null]},
    "ransom_paid": {"type": ["boolean", "null"]},
    "ransom_paid_amount": {"type": ["number", "null"]},
    "ransom_negotiated": {"type": ["boolean", "null"]},
    "ransom_deadline_given": {"type": ["boolean", "null"]},
    "ransom_deadline_days": {"type": ["number", "null"]},
    "decryptor_received": {"type": ["boolean", "null"]},
    "decryptor_worked": {"type": ["boolean", "null"]},
    "iocs": {"type": ["object", "null"], "properties": {
      "ip_addresses": {"type": ["array", "null"], "items": {"type": "string"}},
      "domains": {"type": ["array", "null"], "items": {"type": "string"}},
      "urls": {"type": ["array", "null"], "items": {"type": "string"}},
      "file_hashes": {"type": ["array", "null"], "items": {
        "type": "object",
        "properties": {
          "hash_type": {"type": ["string", "null"], "enum": ["md5", "sha1", "sha256", "sha512", null]},
          "hash_value": {"type": ["string", "null"]}
        }
      }},
      "email_addresses": {"type": ["array", "null"], "items": {"type": "string"}},
      "cryptocurrency_wallets": {"type": ["array", "null"], "items": {"type": "string"}},
      "file_names": {"type": ["array", "null"], "items": {"type": "string"}},
      "registry_keys": {"type": ["array", "null"], "items": {"type": "string"}}
    }},
    "data_breached": {"type": ["boolean", "null"]},
    "data_exfiltrated": {"type": ["boolean", "null"]},
    "data_encrypted": {"type": ["boolean", "null"]},
    "data_destroyed": {"type": ["boolean", "null"]},
    "data_published": {"type": ["boolean", "null"]},
    "data_sold": {"type": ["boolean", "null"]},
    "data_categories": {"type": ["array", "null"], "items": {"type": "string", "enum": [
      "student_pii", "student_ssn", "student_grades", "student_transcripts",
      "student_financial_aid", "student_disciplinary",
      "student_health_records", "student_immigration", "student_housing",
      "employee_pii", "employee_ssn", "employee_payroll",
      "employee_benefits", "employee_performance",
      "employee_background_checks", "alumni_pii", "alumni_donation_history",
      "research_data", "research_grants", "research_ip",
      "research_unpublished", "research_classified", "financial_records",
      "bank_accounts", "credit_cards", "tax_records", "donor_information",
      "medical_records", "health_insurance", "mental_health",
      "disability_records", "usernames_passwords", "api_keys",
      "certificates", "intellectual_property", "legal_documents",
      "contracts", "internal_communications", "security_configurations",
      "network_diagrams", "other"]}},
    "records_affected_min": {"type": ["integer", "null"]},
    "records_affected_max": {"type": ["integer", "null"]},
    "records_affected_exact": {"type": ["integer", "null"]},
    "data_volume_gb": {"type": ["number", "null"]},
    "infrastructure_type": {"type": ["string", "null"], "enum": [
      "on_premises", "cloud_only", "hybrid", "multi_cloud", "unknown", null]},
    "cloud_provider": {"type": ["string", "null"], "enum": [
      "aws", "azure", "gcp", "oracle", "other", "none", "unknown", null]},
    "systems_affected": {"type": ["array", "null"], "items": {"type": "string", "enum": [
      "email_system", "active_directory", "identity_management", "vpn",
      "firewall", "dns", "dhcp", "file_servers", "backup_systems",
      "virtualization", "core_network", "wifi_network", "voip_phone",
      "data_center", "public_website", "student_portal", "staff_portal",
      "alumni_portal", "applicant_portal", "lms_learning_management",
      "sis_student_information", "registration_system", "grade_system",
      "library_system", "exam_proctoring", "erp_system", "hr_system",
      "payroll_system", "financial_system", "procurement",
      "admissions_system", "financial_aid_system", "research_computing_hpc",
      "research_storage", "lab_instruments", "research_databases",
      "ehr_emr", "hospital_systems", "medical_devices", "pharmacy_system",
      "printing_system", "parking_system", "physical_access",
      "cctv_security", "other"]}},
    "critical_systems_affected": {"type": ["boolean", "null"]},
    "network_compromised": {"type": ["boolean", "null"]},
    "domain_admin_compromised": {"type": ["boolean", "null"]},
    "backup_compromised": {"type": ["boolean", "null"]},
    "encryption_extent": {"type": ["string", "null"], "enum": [
      "full_encryption", "partial_encryption", "no_encryption", "unknown", null]},
    "systems_encrypted_count": {"type": ["integer", "null"]},
    "servers_affected_count": {"type": ["integer", "null"]},
    "endpoints_affected_count": {"type": ["integer", "null"]},
    "outage_start_date": {"type": ["string", "null"], "pattern": "^\\d{4}-\\d{2}-\\d{2}$"},
    "outage_end_date": {"type": ["string", "null"], "pattern": "^\\d{4}-\\d{2}-\\d{2}$"},
    "outage_duration_hours": {"type": ["number", "null"]},
    "downtime_days": {"type": ["number", "null"]},
    "partial_service_days": {"type": ["number", "null"]},
    "operational_impacts": {"type": ["array", "null"], "items": {"type": "string", "enum": [
      "classes_cancelled", "classes_moved_online", "exams_postponed",
      "exams_cancelled", "graduation_delayed", "semester_extended",
      "campus_closed", "research_halted", "research_data_lost",
      "payroll_delayed", "financial_aid_delayed", "admissions_suspended",
      "registration_suspended", "email_unavailable", "website_down",
      "student_portal_down", "lms_unavailable", "network_offline",
      "vpn_unavailable", "library_closed", "it_helpdesk_overwhelmed",
      "manual_processes_required", "clinical_operations_disrupted",
      "patient_care_affected", "other"]}},
    "students_affected": {"type": ["integer", "null"]},
    "staff_affected": {"type": ["integer", "null"]},
    "faculty_affected": {"type": ["integer", "null"]},
    "alumni_affected": {"type": ["integer", "null"]},
    "applicants_affected": {"type": ["integer", "null"]},
    "patients_affected": {"type": ["integer", "null"]},
    "donors_affected": {"type": ["integer", "null"]},
    "total_individuals_affected": {"type": ["integer", "null"]},
    "estimated_total_cost_usd": {"type": ["number", "null"]},
    "ransom_cost_usd": {"type": ["number", "null"]},
    "recovery_cost_usd": {"type": ["number", "null"]},
    "legal_cost_usd": {"type": ["number", "null"]},
    "notification_cost_usd": {"type": ["number", "null"]},
    "credit_monitoring_cost_usd": {"type": ["number", "null"]},
    "lost_revenue_usd": {"type": ["number", "null"]},
    "insurance_claim": {"type": ["boolean", "null"]},
    "insurance_payout_usd": {"type": ["number", "null"]},
    "business_impact_severity": {"type": ["string", "null"], "enum": [
      "catastrophic", "critical", "major", "moderate", "minor", "negligible", null]},
    "applicable_regulations": {"type": ["array", "null"], "items": {"type": "string", "enum": [
      "FERPA", "HIPAA", "GDPR", "CCPA_CPRA", "PCI_DSS", "GLBA", "SOX",
      "UK_DPA", "Australia_Privacy_Act", "Canada_PIPEDA",
      "state_breach_notification", "other"]}},
    "breach_notification_required": {"type": ["boolean", "null"]},
    "notification_sent": {"type": ["boolean", "null"]},
    "notification_sent_date": {"type": ["string", "null"], "pattern": "^\\d{4}-\\d{2}-\\d{2}$"},
    "regulators_notified": {"type": ["array", "null"], "items": {"type": "string"}},
    "investigation_opened": {"type": ["boolean", "null"]},
    "investigating_agencies": {"type": ["array", "null"], "items": {"type": "string"}},
    "fine_imposed": {"type": ["boolean", "null"]},
    "fine_amount_usd": {"type": ["number", "null"]},
    "lawsuits_filed": {"type": ["boolean", "null"]},
    "lawsuit_count": {"type": ["integer", "null"]},
    "class_action_filed": {"type": ["boolean", "null"]},
    "settlement_amount_usd": {"type": ["number", "null"]},
    "incident_response_activated": {"type": ["boolean", "null"]},
    "ir_firm_engaged": {"type": ["string", "null"]},
    "forensics_firm_engaged": {"type": ["string", "null"]},
    "legal_counsel_engaged": {"type": ["string", "null"]},
    "pr_firm_engaged": {"type": ["string", "null"]},
    "law_enforcement_involved": {"type": ["boolean", "null"]},
    "law_enforcement_agencies": {"type": ["array", "null"], "items": {"type": "string"}},
    "fbi_involved": {"type": ["boolean", "null"]},
    "cisa_involved": {"type": ["boolean", "null"]},
    "recovery_method": {"type": ["string", "null"], "enum": [
      "backup_restore", "decryptor_used", "ransom_paid_decryption",
      "clean_rebuild", "partial_backup_partial_rebuild", "ongoing",
      "unknown", null]},
    "recovery_started_date": {"type": ["string", "null"], "pattern": "^\\d{4}-\\d{2}-\\d{2}$"},
    "recovery_completed_date": {"type": ["string", "null"], "pattern": "^\\d{4}-\\d{2}-\\d{2}$"},
    "recovery_duration_days": {"type": ["number", "null"]},
    "mttd_hours": {"type": ["number", "null"]},
    "mttr_hours": {"type": ["number", "null"]},
    "security_improvements": {"type": ["array", "null"], "items": {"type": "string", "enum": [
      "mfa_implemented", "mfa_expanded", "password_policy_strengthened",
      "network_segmentation", "endpoint_detection_response",
      "siem_implemented", "soc_established", "backup_strategy_improved",
      "air_gapped_backups", "immutable_backups",
      "security_awareness_training", "phishing_simulation",
      "vulnerability_management", "penetration_testing", "security_audit",
      "zero_trust_initiative", "privileged_access_management",
      "email_security_enhanced", "web_filtering", "dns_filtering",
      "encryption_at_rest", "encryption_in_transit",
      "incident_response_plan_updated", "tabletop_exercises",
      "cyber_insurance_obtained", "vendor_security_review", "other"]}},
    "recovery_phases": {"type": ["array", "null"], "items": {"type": "string", "enum": [
      "containment", "eradication", "recovery", "lessons_learned",
      "post_incident_review"]}},
    "public_disclosure": {"type": ["boolean", "null"]},
    "public_disclosure_date": {"type": ["string", "null"], "pattern": "^\\d{4}-\\d{2}-\\d{2}$"},
    "disclosure_delay_days": {"type": ["number", "null"]},
    "disclosure_source": {"type": ["string", "null"], "enum": [
      "institution_statement", "media_report", "attacker_leak_site",
      "regulatory_filing", "law_enforcement", "social_media",
      "security_researcher", "other", null]},
    "transparency_level": {"type": ["string", "null"], "enum": [
      "excellent", "good", "adequate", "poor", "none", null]},
    "official_statement_url": {"type": ["string", "null"]},
    "incident_report_url": {"type": ["string", "null"]},
    "updates_provided_count": {"type": ["integer", "null"]},
    "attack_campaign_name": {"type": ["string", "null"]},
    "related_incidents": {"type": ["array", "null"], "items": {"type": "string"}},
    "common_vulnerability_exploited": {"type": ["string", "null"]},
    "sector_targeting_pattern": {"type": ["string", "null"], "enum": [
      "targeted_education_only", "opportunistic_multi_sector", "unknown", null]},
    "source_url": {"type": ["string", "null"]},
    "source_headline": {"type": ["string", "null"]},
    "source_publisher": {"type": ["string", "null"]},
    "source_language": {"type": ["string", "null"]},
    "key_quotes": {"type": ["array", "null"], "items": {"type": "string"}},
    "enriched_summary": {"type": "string"},
    "extraction_notes": {"type": ["string", "null"]}
  },
  "required": ["is_edu_cyber_incident", "enriched_summary"]
}`

var compiledSchema = func() *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(ExtractionSchema))
	if err != nil {
		panic(fmt.Sprintf("extraction schema does not compile: %v", err))
	}
	return schema
}()

// ValidateAgainstSchema checks a normalized response object against the
// strict extraction schema.
func ValidateAgainstSchema(obj map[string]any) error {
	result, err := compiledSchema.Validate(gojsonschema.NewGoLoader(obj))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return &ValidationError{Problems: msgs}
	}
	return nil
}

// ValidationError reports schema violations after normalization.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 0 {
		return "schema validation failed"
	}
	return fmt.Sprintf("schema validation failed: %s (and %d more)", e.Problems[0], len(e.Problems)-1)
}
