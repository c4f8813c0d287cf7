package enrich

// Closed enum sets and their alias maps. The sets mirror the extraction
// schema; aliases capture the phrasings the model actually produces.

type enumSpec struct {
	values   map[string]bool
	aliases  map[string]string
	fallback string
}

func set(values ...string) map[string]bool {
	m := make(map[string]bool, len(values))
	for _, v := range values {
		m[v] = true
	}
	return m
}

// schemaProperties is every top-level key the strict schema accepts.
var schemaProperties = set(
	"is_edu_cyber_incident", "education_relevance_reasoning",
	"institution_name", "institution_aliases", "institution_type",
	"institution_size", "country", "country_code", "region", "city",
	"incident_severity", "incident_status", "incident_date",
	"incident_date_precision", "discovery_date", "publication_date",
	"dwell_time_days", "timeline", "attack_category",
	"secondary_attack_categories", "attack_vector",
	"initial_access_description", "attack_chain",
	"vulnerabilities_exploited", "mitre_attack_techniques",
	"threat_actor_claimed", "threat_actor_name", "threat_actor_aliases",
	"threat_actor_category", "threat_actor_motivation",
	"threat_actor_origin_country", "threat_actor_claim_url",
	"ransomware_family", "malware_families", "attacker_tools",
	"was_ransom_demanded", "ransom_amount", "ransom_amount_min",
	"ransom_amount_max", "ransom_amount_exact", "ransom_currency",
	"ransom_cryptocurrency", "ransom_paid", "ransom_paid_amount",
	"ransom_negotiated", "ransom_deadline_given", "ransom_deadline_days",
	"decryptor_received", "decryptor_worked", "iocs", "data_breached",
	"data_exfiltrated", "data_encrypted", "data_destroyed",
	"data_published", "data_sold", "data_categories",
	"records_affected_min", "records_affected_max",
	"records_affected_exact", "data_volume_gb", "infrastructure_type",
	"cloud_provider", "systems_affected", "critical_systems_affected",
	"network_compromised", "domain_admin_compromised", "backup_compromised",
	"encryption_extent", "systems_encrypted_count", "servers_affected_count",
	"endpoints_affected_count", "outage_start_date", "outage_end_date",
	"outage_duration_hours", "downtime_days", "partial_service_days",
	"operational_impacts", "students_affected", "staff_affected",
	"faculty_affected", "alumni_affected", "applicants_affected",
	"patients_affected", "donors_affected", "total_individuals_affected",
	"estimated_total_cost_usd", "ransom_cost_usd", "recovery_cost_usd",
	"legal_cost_usd", "notification_cost_usd", "credit_monitoring_cost_usd",
	"lost_revenue_usd", "insurance_claim", "insurance_payout_usd",
	"business_impact_severity", "applicable_regulations",
	"breach_notification_required", "notification_sent",
	"notification_sent_date", "regulators_notified", "investigation_opened",
	"investigating_agencies", "fine_imposed", "fine_amount_usd",
	"lawsuits_filed", "lawsuit_count", "class_action_filed",
	"settlement_amount_usd", "incident_response_activated",
	"ir_firm_engaged", "forensics_firm_engaged", "legal_counsel_engaged",
	"pr_firm_engaged", "law_enforcement_involved",
	"law_enforcement_agencies", "fbi_involved", "cisa_involved",
	"recovery_method", "recovery_started_date", "recovery_completed_date",
	"recovery_duration_days", "mttd_hours", "mttr_hours",
	"security_improvements", "recovery_phases", "public_disclosure",
	"public_disclosure_date", "disclosure_delay_days", "disclosure_source",
	"transparency_level", "official_statement_url", "incident_report_url",
	"updates_provided_count", "attack_campaign_name", "related_incidents",
	"common_vulnerability_exploited", "sector_targeting_pattern",
	"source_url", "source_headline", "source_publisher", "source_language",
	"key_quotes", "enriched_summary", "extraction_notes",
)

var timelineEventFields = set(
	"date", "date_precision", "event_description", "event_type",
	"actor_attribution", "indicators",
)

var mitreTechniqueFields = set(
	"technique_id", "technique_name", "tactic", "description", "sub_techniques",
)

var iocFields = set(
	"ip_addresses", "domains", "urls", "file_hashes", "email_addresses",
	"cryptocurrency_wallets", "file_names", "registry_keys",
)

var timelineEventTypes = set(
	"initial_access", "reconnaissance", "lateral_movement",
	"privilege_escalation", "data_exfiltration", "encryption_started",
	"ransom_demand", "discovery", "containment", "eradication", "recovery",
	"disclosure", "notification", "investigation", "remediation",
	"law_enforcement_contact", "public_statement", "systems_restored", "other",
)

var timelineEventAliases = map[string]string{
	"discovered":    "discovery",
	"exploited":     "initial_access",
	"exploitation":  "initial_access",
	"impacted":      "other",
	"contained":     "containment",
	"eradicated":    "eradication",
	"recovered":     "recovery",
	"disclosed":     "disclosure",
	"notified":      "notification",
	"investigated":  "investigation",
	"remediated":    "remediation",
	"encrypted":     "encryption_started",
	"ransom note":   "ransom_demand",
	"exfiltration":  "data_exfiltration",
	"restored":      "systems_restored",
	"statement":     "public_statement",
	"law enforcement": "law_enforcement_contact",
}

var timelinePrecisions = set("day", "month", "year", "approximate")

var timelinePrecisionAliases = map[string]string{
	"exact":       "day",
	"daily":       "day",
	"month only":  "month",
	"monthly":     "month",
	"year only":   "year",
	"yearly":      "year",
	"approx":      "approximate",
	"estimated":   "approximate",
	"uncertain":   "approximate",
}

var incidentDatePrecisions = set("exact", "approximate", "month_only", "year_only", "unknown")

var incidentDatePrecisionAliases = map[string]string{
	"day":        "exact",
	"daily":      "exact",
	"month":      "month_only",
	"monthly":    "month_only",
	"year":       "year_only",
	"yearly":     "year_only",
	"approx":     "approximate",
	"estimated":  "approximate",
}

var mitreTactics = set(
	"reconnaissance", "resource_development", "initial_access", "execution",
	"persistence", "privilege_escalation", "defense_evasion",
	"credential_access", "discovery", "lateral_movement", "collection",
	"command_and_control", "exfiltration", "impact",
)

var mitreTacticAliases = map[string]string{
	"c2":                  "command_and_control",
	"command and control": "command_and_control",
	"priv esc":            "privilege_escalation",
	"defence evasion":     "defense_evasion",
	"lateral":             "lateral_movement",
	"recon":               "reconnaissance",
}

var attackCategories = set(
	"ransomware_encryption", "ransomware_double_extortion",
	"ransomware_triple_extortion", "ransomware_data_leak_only",
	"phishing_credential_harvest", "phishing_malware_delivery",
	"spear_phishing", "whaling", "business_email_compromise", "smishing",
	"vishing", "data_breach_external", "data_breach_internal",
	"data_exposure_misconfiguration", "data_leak_accidental",
	"ddos_volumetric", "ddos_application", "ddos_protocol", "malware_trojan",
	"malware_worm", "malware_backdoor", "malware_rootkit",
	"malware_cryptominer", "malware_infostealer", "malware_rat",
	"malware_botnet", "unauthorized_access", "privilege_escalation",
	"credential_stuffing", "brute_force", "password_spraying",
	"web_defacement", "sql_injection", "xss_attack", "api_abuse",
	"insider_malicious", "insider_negligent", "insider_compromised",
	"supply_chain_software", "supply_chain_hardware",
	"supply_chain_service_provider", "third_party_compromise",
	"social_engineering", "physical_breach", "account_takeover",
	"extortion_no_ransomware", "hacktivism", "espionage", "sabotage",
	"fraud", "unknown", "other",
)

var attackCategoryAliases = map[string]string{
	"ransomware":        "ransomware_encryption",
	"double extortion":  "ransomware_double_extortion",
	"phishing":          "phishing_credential_harvest",
	"data breach":       "data_breach_external",
	"breach":            "data_breach_external",
	"ddos":              "ddos_volumetric",
	"denial of service": "ddos_volumetric",
	"malware":           "malware_trojan",
	"infostealer":       "malware_infostealer",
	"defacement":        "web_defacement",
	"bec":               "business_email_compromise",
	"supply chain":      "supply_chain_software",
	"insider":           "insider_malicious",
	"extortion":         "extortion_no_ransomware",
}

var attackVectors = set(
	"phishing_email", "spear_phishing_email", "malicious_attachment",
	"malicious_link", "business_email_compromise", "stolen_credentials",
	"credential_stuffing", "brute_force", "password_spraying",
	"credential_phishing", "session_hijacking", "vulnerability_exploit_known",
	"vulnerability_exploit_zero_day", "unpatched_system", "misconfiguration",
	"default_credentials", "drive_by_download", "watering_hole",
	"malvertising", "sql_injection", "xss", "csrf", "ssrf", "path_traversal",
	"exposed_service", "exposed_rdp", "exposed_vpn", "exposed_ssh",
	"exposed_database", "exposed_api", "man_in_the_middle",
	"supply_chain_compromise", "third_party_vendor",
	"software_update_compromise", "trusted_relationship",
	"social_engineering", "pretexting", "baiting", "tailgating", "usb_drop",
	"insider_access", "former_employee", "cloud_misconfiguration",
	"api_key_exposure", "storage_bucket_exposure", "dns_hijacking",
	"bgp_hijacking", "sim_swapping", "unknown", "other",
)

var attackVectorAliases = map[string]string{
	"phishing":                "phishing_email",
	"email phishing":          "phishing_email",
	"spear phishing":          "spear_phishing_email",
	"targeted phishing":       "spear_phishing_email",
	"vulnerability":           "vulnerability_exploit_known",
	"exploit":                 "vulnerability_exploit_known",
	"cve":                     "vulnerability_exploit_known",
	"zero day":                "vulnerability_exploit_zero_day",
	"zero-day":                "vulnerability_exploit_zero_day",
	"credential reuse":        "credential_stuffing",
	"compromised credentials": "stolen_credentials",
	"credential theft":        "stolen_credentials",
	"rdp":                     "exposed_rdp",
	"vpn":                     "exposed_vpn",
	"third party":             "third_party_vendor",
	"vendor breach":           "third_party_vendor",
	"supply chain":            "supply_chain_compromise",
	"misconfig":               "misconfiguration",
	"cross-site scripting":    "xss",
	"sqli":                    "sql_injection",
	"insider":                 "insider_access",
	"social":                  "social_engineering",
}

var attackChainPhases = set(
	"reconnaissance", "resource_development", "initial_access", "execution",
	"persistence", "privilege_escalation", "defense_evasion",
	"credential_access", "discovery", "lateral_movement", "collection",
	"command_and_control", "exfiltration", "impact",
)

var attackChainAliases = map[string]string{
	"recon":                 "reconnaissance",
	"weaponization":         "resource_development",
	"weaponize":             "resource_development",
	"delivery":              "initial_access",
	"exploitation":          "initial_access",
	"installation":          "persistence",
	"install":               "persistence",
	"c2":                    "command_and_control",
	"c&c":                   "command_and_control",
	"command and control":   "command_and_control",
	"actions on objectives": "impact",
	"actions":               "impact",
	"exfil":                 "exfiltration",
}

var ransomwareFamilies = set(
	"lockbit", "lockbit_2", "lockbit_3", "blackcat_alphv", "cl0p_clop",
	"akira", "play", "8base", "bianlian", "royal", "black_basta", "medusa",
	"rhysida", "hunters_international", "inc_ransom", "vice_society", "hive",
	"conti", "ryuk", "revil_sodinokibi", "darkside", "blackmatter", "maze",
	"netwalker", "ragnar_locker", "avaddon", "cuba", "pysa_mespinoza",
	"babuk", "grief", "snatch", "quantum", "karakurt", "lorenz", "noescape",
	"cactus", "trigona", "money_message", "nokoyawa", "ransomhouse",
	"daixin", "unknown", "other",
)

var ransomwareFamilyAliases = map[string]string{
	"lockbit 2.0":   "lockbit_2",
	"lockbit 3.0":   "lockbit_3",
	"lockbit black": "lockbit_3",
	"blackcat":      "blackcat_alphv",
	"alphv":         "blackcat_alphv",
	"noberus":       "blackcat_alphv",
	"cl0p":          "cl0p_clop",
	"clop":          "cl0p_clop",
	"revil":         "revil_sodinokibi",
	"sodinokibi":    "revil_sodinokibi",
	"vice society":  "vice_society",
	"black basta":   "black_basta",
	"blacksuit":     "royal",
	"mespinoza":     "pysa_mespinoza",
	"pysa":          "pysa_mespinoza",
	"hunters international": "hunters_international",
	"inc ransom":    "inc_ransom",
	"money message": "money_message",
	"ragnar locker": "ragnar_locker",
}

var systemCategories = set(
	"email_system", "active_directory", "identity_management", "vpn",
	"firewall", "dns", "dhcp", "file_servers", "backup_systems",
	"virtualization", "core_network", "wifi_network", "voip_phone",
	"data_center", "public_website", "student_portal", "staff_portal",
	"alumni_portal", "applicant_portal", "lms_learning_management",
	"sis_student_information", "registration_system", "grade_system",
	"library_system", "exam_proctoring", "erp_system", "hr_system",
	"payroll_system", "financial_system", "procurement", "admissions_system",
	"financial_aid_system", "research_computing_hpc", "research_storage",
	"lab_instruments", "research_databases", "ehr_emr", "hospital_systems",
	"medical_devices", "pharmacy_system", "printing_system",
	"parking_system", "physical_access", "cctv_security", "other",
)

var systemCategoryAliases = map[string]string{
	"email":                      "email_system",
	"mail server":                "email_system",
	"mail":                       "email_system",
	"portal":                     "student_portal",
	"student information system": "sis_student_information",
	"sis":                        "sis_student_information",
	"learning management system": "lms_learning_management",
	"lms":                        "lms_learning_management",
	"website":                    "public_website",
	"web servers":                "public_website",
	"network":                    "core_network",
	"wifi":                       "wifi_network",
	"internet":                   "core_network",
	"voip":                       "voip_phone",
	"phone system":               "voip_phone",
	"telephony":                  "voip_phone",
	"database":                   "research_databases",
	"backup":                     "backup_systems",
	"backups":                    "backup_systems",
	"hospital":                   "hospital_systems",
	"payroll":                    "payroll_system",
	"hr":                         "hr_system",
	"finance":                    "financial_system",
	"financial software":         "financial_system",
	"accounting system":          "financial_system",
	"admissions":                 "admissions_system",
	"library":                    "library_system",
	"file share":                 "file_servers",
	"file transfer":              "file_servers",
	"ad":                         "active_directory",
	"domain controller":          "active_directory",
	"hpc":                        "research_computing_hpc",
	"research computing":         "research_computing_hpc",
}

var operationalImpacts = set(
	"classes_cancelled", "classes_moved_online", "exams_postponed",
	"exams_cancelled", "graduation_delayed", "semester_extended",
	"campus_closed", "research_halted", "research_data_lost",
	"payroll_delayed", "financial_aid_delayed", "admissions_suspended",
	"registration_suspended", "email_unavailable", "website_down",
	"student_portal_down", "lms_unavailable", "network_offline",
	"vpn_unavailable", "library_closed", "it_helpdesk_overwhelmed",
	"manual_processes_required", "clinical_operations_disrupted",
	"patient_care_affected", "other",
)

var operationalImpactAliases = map[string]string{
	"classes canceled":      "classes_cancelled",
	"class cancellation":    "classes_cancelled",
	"teaching disrupted":    "classes_cancelled",
	"teaching":              "classes_cancelled",
	"online learning":       "lms_unavailable",
	"research disrupted":    "research_halted",
	"research":              "research_halted",
	"admissions disrupted":  "admissions_suspended",
	"admissions":            "admissions_suspended",
	"enrollment disrupted":  "registration_suspended",
	"enrollment":            "registration_suspended",
	"payroll disrupted":     "payroll_delayed",
	"payroll":               "payroll_delayed",
	"email down":            "email_unavailable",
	"email system down":     "email_unavailable",
	"portal down":           "student_portal_down",
	"network down":          "network_offline",
	"exam disruption":       "exams_postponed",
	"clinical":              "clinical_operations_disrupted",
	"manual processes":      "manual_processes_required",
}

var recoveryPhases = set(
	"containment", "eradication", "recovery", "lessons_learned",
	"post_incident_review",
)

var recoveryPhaseAliases = map[string]string{
	"contain":              "containment",
	"eradicate":            "eradication",
	"recover":              "recovery",
	"lessons learned":      "lessons_learned",
	"post incident review": "post_incident_review",
	"post-incident review": "post_incident_review",
}

var dataCategories = set(
	"student_pii", "student_ssn", "student_grades", "student_transcripts",
	"student_financial_aid", "student_disciplinary", "student_health_records",
	"student_immigration", "student_housing", "employee_pii", "employee_ssn",
	"employee_payroll", "employee_benefits", "employee_performance",
	"employee_background_checks", "alumni_pii", "alumni_donation_history",
	"research_data", "research_grants", "research_ip",
	"research_unpublished", "research_classified", "financial_records",
	"bank_accounts", "credit_cards", "tax_records", "donor_information",
	"medical_records", "health_insurance", "mental_health",
	"disability_records", "usernames_passwords", "api_keys", "certificates",
	"intellectual_property", "legal_documents", "contracts",
	"internal_communications", "security_configurations", "network_diagrams",
	"other",
)

var dataCategoryAliases = map[string]string{
	"student records":      "student_pii",
	"student data":         "student_pii",
	"pii":                  "student_pii",
	"social security":      "student_ssn",
	"grades":               "student_grades",
	"transcripts":          "student_transcripts",
	"staff data":           "employee_pii",
	"employee data":        "employee_pii",
	"payroll":              "employee_payroll",
	"health data":          "medical_records",
	"medical":              "medical_records",
	"financial data":       "financial_records",
	"credentials":          "usernames_passwords",
	"passwords":            "usernames_passwords",
	"research":             "research_data",
	"donor":                "donor_information",
	"alumni":               "alumni_pii",
}

var securityImprovements = set(
	"mfa_implemented", "mfa_expanded", "password_policy_strengthened",
	"network_segmentation", "endpoint_detection_response",
	"siem_implemented", "soc_established", "backup_strategy_improved",
	"air_gapped_backups", "immutable_backups", "security_awareness_training",
	"phishing_simulation", "vulnerability_management", "penetration_testing",
	"security_audit", "zero_trust_initiative",
	"privileged_access_management", "email_security_enhanced",
	"web_filtering", "dns_filtering", "encryption_at_rest",
	"encryption_in_transit", "incident_response_plan_updated",
	"tabletop_exercises", "cyber_insurance_obtained",
	"vendor_security_review", "other",
)

var securityImprovementAliases = map[string]string{
	"mfa":                      "mfa_implemented",
	"multi-factor":             "mfa_implemented",
	"two-factor":               "mfa_implemented",
	"edr":                      "endpoint_detection_response",
	"siem":                     "siem_implemented",
	"soc":                      "soc_established",
	"training":                 "security_awareness_training",
	"awareness":                "security_awareness_training",
	"segmentation":             "network_segmentation",
	"pentest":                  "penetration_testing",
	"zero trust":               "zero_trust_initiative",
	"pam":                      "privileged_access_management",
	"backups improved":         "backup_strategy_improved",
	"incident response plan":   "incident_response_plan_updated",
	"cyber insurance":          "cyber_insurance_obtained",
}

var regulations = set(
	"FERPA", "HIPAA", "GDPR", "CCPA_CPRA", "PCI_DSS", "GLBA", "SOX",
	"UK_DPA", "Australia_Privacy_Act", "Canada_PIPEDA",
	"state_breach_notification", "other",
)

var regulationAliases = map[string]string{
	"ferpa":    "FERPA",
	"hipaa":    "HIPAA",
	"gdpr":     "GDPR",
	"ccpa":     "CCPA_CPRA",
	"cpra":     "CCPA_CPRA",
	"pci":      "PCI_DSS",
	"pci dss":  "PCI_DSS",
	"pci-dss":  "PCI_DSS",
	"glba":     "GLBA",
	"sox":      "SOX",
	"uk dpa":   "UK_DPA",
	"dpa":      "UK_DPA",
	"pipeda":   "Canada_PIPEDA",
	"state breach": "state_breach_notification",
}

// scalarEnumFields maps scalar enum fields to their spec. The fallback is
// "other" where the schema set includes it, otherwise "unknown" where the set
// has that member; sets with neither drop to null via "".
var scalarEnumFields = map[string]enumSpec{
	"attack_category": {attackCategories, attackCategoryAliases, "other"},
	"attack_vector":   {attackVectors, attackVectorAliases, "other"},
	"ransomware_family": {ransomwareFamilies, ransomwareFamilyAliases, "other"},
	"institution_type": {set(
		"university_public", "university_private", "university_research",
		"community_college", "technical_college", "vocational_school",
		"k12_public_school", "k12_private_school", "k12_charter_school",
		"school_district", "research_institute", "research_center",
		"medical_school", "university_hospital", "teaching_hospital",
		"online_university", "consortium", "education_department",
		"education_ministry", "student_loan_servicer", "education_nonprofit",
		"education_vendor", "unknown"), map[string]string{
		"university":       "university_public",
		"public university": "university_public",
		"private university": "university_private",
		"research university": "university_research",
		"community college": "community_college",
		"college":          "community_college",
		"school district":  "school_district",
		"district":         "school_district",
		"k12":              "k12_public_school",
		"k-12":             "k12_public_school",
		"high school":      "k12_public_school",
		"school":           "k12_public_school",
		"research institute": "research_institute",
		"medical school":   "medical_school",
		"teaching hospital": "teaching_hospital",
	}, "unknown"},
	"institution_size": {set(
		"small_under_5k", "medium_5k_20k", "large_20k_50k",
		"very_large_over_50k", "unknown"), nil, "unknown"},
	"incident_severity": {set("critical", "high", "medium", "low", "informational"),
		map[string]string{"severe": "high", "moderate": "medium", "minor": "low", "info": "informational"}, ""},
	"incident_status": {set("ongoing", "contained", "resolved", "unknown"),
		map[string]string{"active": "ongoing", "closed": "resolved", "remediated": "resolved"}, "unknown"},
	"ransom_cryptocurrency": {set("bitcoin", "monero", "ethereum", "other", "unknown"),
		map[string]string{"btc": "bitcoin", "xmr": "monero", "eth": "ethereum"}, "other"},
	"infrastructure_type": {set("on_premises", "cloud_only", "hybrid", "multi_cloud", "unknown"),
		map[string]string{"on prem": "on_premises", "on-premises": "on_premises", "cloud": "cloud_only"}, "unknown"},
	"cloud_provider": {set("aws", "azure", "gcp", "oracle", "other", "none", "unknown"),
		map[string]string{"amazon": "aws", "microsoft": "azure", "google": "gcp", "google cloud": "gcp"}, "other"},
	"encryption_extent": {set("full_encryption", "partial_encryption", "no_encryption", "unknown"),
		map[string]string{"full": "full_encryption", "complete": "full_encryption", "entire": "full_encryption",
			"partial": "partial_encryption", "some": "partial_encryption", "portion": "partial_encryption",
			"no": "no_encryption", "not encrypted": "no_encryption"}, "unknown"},
	"business_impact_severity": {set("catastrophic", "critical", "major", "moderate", "minor", "negligible"),
		map[string]string{"severe": "critical", "high": "major", "medium": "moderate",
			"limited": "minor", "low": "minor", "minimal": "negligible"}, ""},
	"threat_actor_category": {set(
		"apt_nation_state", "apt_state_sponsored", "cybercriminal_organized",
		"cybercriminal_individual", "ransomware_gang", "ransomware_affiliate",
		"hacktivist", "insider_threat", "script_kiddie", "competitor",
		"unknown", "other"), map[string]string{
		"apt":            "apt_nation_state",
		"nation state":   "apt_nation_state",
		"state sponsored": "apt_state_sponsored",
		"ransomware group": "ransomware_gang",
		"gang":           "ransomware_gang",
		"affiliate":      "ransomware_affiliate",
		"organized crime": "cybercriminal_organized",
		"cybercriminal":  "cybercriminal_organized",
		"insider":        "insider_threat",
	}, "other"},
	"threat_actor_motivation": {set(
		"financial_gain", "espionage", "hacktivism", "sabotage",
		"personal_grievance", "notoriety", "research_theft",
		"competitive_advantage", "unknown"), map[string]string{
		"financial": "financial_gain",
		"money":     "financial_gain",
		"profit":    "financial_gain",
		"political": "hacktivism",
		"revenge":   "personal_grievance",
		"fame":      "notoriety",
	}, "unknown"},
	"recovery_method": {set(
		"backup_restore", "decryptor_used", "ransom_paid_decryption",
		"clean_rebuild", "partial_backup_partial_rebuild", "ongoing",
		"unknown"), map[string]string{
		"backup":    "backup_restore",
		"backups":   "backup_restore",
		"restored from backup": "backup_restore",
		"decryptor": "decryptor_used",
		"rebuild":   "clean_rebuild",
		"rebuilt":   "clean_rebuild",
	}, "unknown"},
	"disclosure_source": {set(
		"institution_statement", "media_report", "attacker_leak_site",
		"regulatory_filing", "law_enforcement", "social_media",
		"security_researcher", "other"), map[string]string{
		"statement":  "institution_statement",
		"press":      "media_report",
		"media":      "media_report",
		"news":       "media_report",
		"leak site":  "attacker_leak_site",
		"researcher": "security_researcher",
	}, "other"},
	"transparency_level": {set("excellent", "good", "adequate", "poor", "none"),
		map[string]string{"high": "good", "medium": "adequate", "low": "poor"}, ""},
	"sector_targeting_pattern": {set("targeted_education_only", "opportunistic_multi_sector", "unknown"),
		map[string]string{"targeted": "targeted_education_only", "opportunistic": "opportunistic_multi_sector"}, "unknown"},
}

var listEnumFields = map[string]enumSpec{
	"attack_chain":          {attackChainPhases, attackChainAliases, ""},
	"systems_affected":      {systemCategories, systemCategoryAliases, "other"},
	"operational_impacts":   {operationalImpacts, operationalImpactAliases, "other"},
	"recovery_phases":       {recoveryPhases, recoveryPhaseAliases, ""},
	"data_categories":       {dataCategories, dataCategoryAliases, "other"},
	"security_improvements": {securityImprovements, securityImprovementAliases, "other"},
	"applicable_regulations": {regulations, regulationAliases, "other"},
}

// booleanFields are coerced from yes/no/unknown strings and wrapper objects.
var booleanFields = []string{
	"is_edu_cyber_incident", "threat_actor_claimed", "was_ransom_demanded",
	"ransom_paid", "ransom_negotiated", "ransom_deadline_given",
	"decryptor_received", "decryptor_worked", "data_breached",
	"data_exfiltrated", "data_encrypted", "data_destroyed",
	"data_published", "data_sold", "critical_systems_affected",
	"network_compromised", "domain_admin_compromised", "backup_compromised",
	"insurance_claim", "breach_notification_required", "notification_sent",
	"investigation_opened", "fine_imposed", "lawsuits_filed",
	"class_action_filed", "incident_response_activated",
	"law_enforcement_involved", "fbi_involved", "cisa_involved",
	"public_disclosure",
}

// numericFields accept money-formatted strings.
var numericFields = []string{
	"dwell_time_days", "ransom_amount", "ransom_amount_min",
	"ransom_amount_max", "ransom_amount_exact", "ransom_paid_amount",
	"ransom_deadline_days", "data_volume_gb", "outage_duration_hours",
	"downtime_days", "partial_service_days", "estimated_total_cost_usd",
	"ransom_cost_usd", "recovery_cost_usd", "legal_cost_usd",
	"notification_cost_usd", "credit_monitoring_cost_usd",
	"lost_revenue_usd", "insurance_payout_usd", "fine_amount_usd",
	"settlement_amount_usd", "recovery_duration_days", "mttd_hours",
	"mttr_hours", "disclosure_delay_days",
}

var integerFields = []string{
	"records_affected_min", "records_affected_max", "records_affected_exact",
	"systems_encrypted_count", "servers_affected_count",
	"endpoints_affected_count", "students_affected", "staff_affected",
	"faculty_affected", "alumni_affected", "applicants_affected",
	"patients_affected", "donors_affected", "total_individuals_affected",
	"lawsuit_count", "updates_provided_count",
}
