package enrich

import (
	"encoding/json"
	"fmt"
)

// TimelineEvent is one entry of the incident timeline.
type TimelineEvent struct {
	Date             *string  `json:"date"`
	DatePrecision    *string  `json:"date_precision"`
	EventDescription *string  `json:"event_description"`
	EventType        *string  `json:"event_type"`
	ActorAttribution *string  `json:"actor_attribution"`
	Indicators       []string `json:"indicators"`
}

// MitreTechnique is one MITRE ATT&CK technique reference.
type MitreTechnique struct {
	TechniqueID   *string  `json:"technique_id"`
	TechniqueName *string  `json:"technique_name"`
	Tactic        *string  `json:"tactic"`
	Description   *string  `json:"description"`
	SubTechniques []string `json:"sub_techniques"`
}

// AttackDynamics condenses how the attack unfolded.
type AttackDynamics struct {
	AttackCategory     *string  `json:"attack_category"`
	AttackVector       *string  `json:"attack_vector"`
	AttackChain        []string `json:"attack_chain"`
	RansomwareFamily   *string  `json:"ransomware_family"`
	DataExfiltration   *bool    `json:"data_exfiltration"`
	EncryptionExtent   *string  `json:"encryption_extent"`
	RansomDemanded     *bool    `json:"ransom_demanded"`
	RansomAmount       *float64 `json:"ransom_amount"`
	RansomPaid         *bool    `json:"ransom_paid"`
	BusinessImpact     *string  `json:"business_impact"`
	OperationalImpacts []string `json:"operational_impacts"`
}

// Result is the strict typed enrichment record for one incident. Normalized
// holds the full schema-conformant object; the typed fields are the
// projections the rest of the pipeline touches directly.
type Result struct {
	IsEducationRelated    bool             `json:"is_education_related"`
	Reasoning             string           `json:"education_relevance_reasoning"`
	InstitutionName       *string          `json:"institution_name"`
	PrimaryURL            string           `json:"primary_url"`
	Timeline              []TimelineEvent  `json:"timeline"`
	MitreTechniques       []MitreTechnique `json:"mitre_attack_techniques"`
	AttackDynamics        *AttackDynamics  `json:"attack_dynamics"`
	EnrichedSummary       string           `json:"enriched_summary"`
	IncidentDate          string           `json:"incident_date,omitempty"`
	IncidentDatePrecision string           `json:"incident_date_precision,omitempty"`
	Country               string           `json:"country,omitempty"`

	Normalized map[string]any `json:"extraction"`
	Coverage   int            `json:"coverage_score"`
}

// ResultFromNormalized builds the typed record from a schema-conformant
// object.
func ResultFromNormalized(obj map[string]any, primaryURL string) (*Result, error) {
	if obj == nil {
		return nil, fmt.Errorf("normalized object is required")
	}

	r := &Result{
		IsEducationRelated: boolAt(obj, "is_edu_cyber_incident"),
		Reasoning:          stringAt(obj, "education_relevance_reasoning"),
		InstitutionName:    stringPtrAt(obj, "institution_name"),
		PrimaryURL:         primaryURL,
		EnrichedSummary:    stringAt(obj, "enriched_summary"),
		IncidentDate:       stringAt(obj, "incident_date"),
		Country:            stringAt(obj, "country"),
		Normalized:         obj,
	}

	if prec := stringAt(obj, "incident_date_precision"); prec != "" {
		r.IncidentDatePrecision = prec
	}

	if list, ok := obj["timeline"].([]any); ok {
		for _, item := range list {
			event, ok := item.(map[string]any)
			if !ok {
				continue
			}
			r.Timeline = append(r.Timeline, TimelineEvent{
				Date:             stringPtrAt(event, "date"),
				DatePrecision:    stringPtrAt(event, "date_precision"),
				EventDescription: stringPtrAt(event, "event_description"),
				EventType:        stringPtrAt(event, "event_type"),
				ActorAttribution: stringPtrAt(event, "actor_attribution"),
				Indicators:       stringSliceAt(event, "indicators"),
			})
		}
	}

	if list, ok := obj["mitre_attack_techniques"].([]any); ok {
		for _, item := range list {
			tech, ok := item.(map[string]any)
			if !ok {
				continue
			}
			r.MitreTechniques = append(r.MitreTechniques, MitreTechnique{
				TechniqueID:   stringPtrAt(tech, "technique_id"),
				TechniqueName: stringPtrAt(tech, "technique_name"),
				Tactic:        stringPtrAt(tech, "tactic"),
				Description:   stringPtrAt(tech, "description"),
				SubTechniques: stringSliceAt(tech, "sub_techniques"),
			})
		}
	}

	if hasAnyKey(obj, "attack_category", "attack_vector", "attack_chain",
		"ransomware_family", "data_exfiltrated", "was_ransom_demanded") {
		r.AttackDynamics = &AttackDynamics{
			AttackCategory:     stringPtrAt(obj, "attack_category"),
			AttackVector:       stringPtrAt(obj, "attack_vector"),
			AttackChain:        stringSliceAt(obj, "attack_chain"),
			RansomwareFamily:   stringPtrAt(obj, "ransomware_family"),
			DataExfiltration:   boolPtrAt(obj, "data_exfiltrated"),
			EncryptionExtent:   stringPtrAt(obj, "encryption_extent"),
			RansomDemanded:     boolPtrAt(obj, "was_ransom_demanded"),
			RansomAmount:       floatPtrAt(obj, "ransom_amount"),
			RansomPaid:         boolPtrAt(obj, "ransom_paid"),
			BusinessImpact:     stringPtrAt(obj, "business_impact_severity"),
			OperationalImpacts: stringSliceAt(obj, "operational_impacts"),
		}
	}

	r.Coverage = CoverageScore(obj)
	return r, nil
}

// CoverageScore counts the non-null values in a normalized object, nested
// structures included. It ranks articles: the article whose extraction fills
// the most fields becomes the primary source.
func CoverageScore(obj map[string]any) int {
	return countFilled(obj)
}

func countFilled(v any) int {
	switch val := v.(type) {
	case nil:
		return 0
	case map[string]any:
		count := 0
		for _, inner := range val {
			count += countFilled(inner)
		}
		return count
	case []any:
		count := 0
		for _, inner := range val {
			count += countFilled(inner)
		}
		return count
	case string:
		if val == "" {
			return 0
		}
		return 1
	case bool:
		// false is a real extracted answer, not an absence
		return 1
	default:
		return 1
	}
}

// MarshalRecord serializes the full enrichment record for storage.
func (r *Result) MarshalRecord() (string, error) {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal enrichment record: %w", err)
	}
	return string(b), nil
}

// TimelineJSON serializes the timeline list, "" when empty.
func (r *Result) TimelineJSON() string {
	if len(r.Timeline) == 0 {
		return ""
	}
	b, err := json.Marshal(r.Timeline)
	if err != nil {
		return ""
	}
	return string(b)
}

// MitreJSON serializes the technique list, "" when empty.
func (r *Result) MitreJSON() string {
	if len(r.MitreTechniques) == 0 {
		return ""
	}
	b, err := json.Marshal(r.MitreTechniques)
	if err != nil {
		return ""
	}
	return string(b)
}

// AttackDynamicsJSON serializes the attack dynamics block, "" when absent.
func (r *Result) AttackDynamicsJSON() string {
	if r.AttackDynamics == nil {
		return ""
	}
	b, err := json.Marshal(r.AttackDynamics)
	if err != nil {
		return ""
	}
	return string(b)
}

func stringAt(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return s
}

func stringPtrAt(obj map[string]any, key string) *string {
	if s, ok := obj[key].(string); ok && s != "" {
		return &s
	}
	return nil
}

func boolAt(obj map[string]any, key string) bool {
	b, _ := obj[key].(bool)
	return b
}

func boolPtrAt(obj map[string]any, key string) *bool {
	if b, ok := obj[key].(bool); ok {
		return &b
	}
	return nil
}

func floatPtrAt(obj map[string]any, key string) *float64 {
	if f, ok := obj[key].(float64); ok {
		return &f
	}
	return nil
}

func stringSliceAt(obj map[string]any, key string) []string {
	list, ok := obj[key].([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func hasAnyKey(obj map[string]any, keys ...string) bool {
	for _, k := range keys {
		if v, ok := obj[k]; ok && v != nil {
			return true
		}
	}
	return false
}
