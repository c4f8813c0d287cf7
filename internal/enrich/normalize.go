package enrich

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/eduthreat/cti-pipeline/internal/domain"
)

// Normalization turns the model's permissive output into an object the
// strict schema accepts: wrapper unwrapping, alias renames, enum coercion
// via alias maps with a substring fallback, and type coercions. The pass is
// deterministic and idempotent.

var wrapperKeys = []string{"cti_extraction", "incident_analysis", "result", "data", "response"}

// fieldAliases rename model-invented keys onto canonical schema names.
var fieldAliases = map[string]string{
	"mitre_attack":               "mitre_attack_techniques",
	"mitre_techniques":           "mitre_attack_techniques",
	"institution_identified":     "institution_name",
	"summary":                    "enriched_summary",
	"ransomware_family_or_group": "ransomware_family",
	"ransomware_group":           "ransomware_family",
	"initial_access":             "initial_access_description",
	"access_method":              "initial_access_description",
	"how_attacker_gained_access": "initial_access_description",
	"attack_entry_point":         "initial_access_description",
	"ransom_demanded":            "was_ransom_demanded",
	"operational_impact":         "operational_impacts",
	"regulatory_context":         "applicable_regulations",
	"education_reasoning":        "education_relevance_reasoning",
}

// deprecatedFields are dropped outright; they existed in earlier schema
// versions and the model still emits them occasionally.
var deprecatedFields = []string{
	"confidence",
	"confidence_score",
	"extraction_confidence",
	"url_scores",
	"confidence_level",
	"certainty",
}

var mitreTechniquePattern = regexp.MustCompile(`^(T\d{4}(?:\.\d{3})?)\s*[:\-]?\s*(.*)$`)
var countryCodePattern = regexp.MustCompile(`^[A-Z]{2}$`)

// Normalize produces a schema-conformant object from a permissive model
// response. The input map is not mutated.
func Normalize(raw map[string]any) map[string]any {
	obj := copyMap(raw)

	obj = unwrap(obj)
	renameAliases(obj)
	coerceEducationRelevance(obj)
	dropDeprecated(obj)

	normalizeTimeline(obj)
	normalizeMitreTechniques(obj)
	normalizeScalarEnums(obj)
	normalizeListEnums(obj)
	normalizeBooleans(obj)
	normalizeNumbers(obj)
	normalizeDates(obj)
	normalizeDatePrecision(obj)
	normalizeCountryCode(obj)
	normalizeIOCs(obj)
	dropUnknownStrings(obj)
	dropUnknownKeys(obj)
	ensureRequired(obj)

	return obj
}

// NormalizeAndValidate runs Normalize and schema validation, re-running the
// normalization once on validation failure before giving up.
func NormalizeAndValidate(raw map[string]any) (map[string]any, error) {
	obj := Normalize(raw)
	err := ValidateAgainstSchema(obj)
	if err == nil {
		return obj, nil
	}

	obj = Normalize(obj)
	if verr := ValidateAgainstSchema(obj); verr == nil {
		return obj, nil
	}
	return nil, err
}

// unwrap removes a single wrapper key around the actual payload.
func unwrap(obj map[string]any) map[string]any {
	if len(obj) == 1 {
		for key, value := range obj {
			inner, ok := value.(map[string]any)
			if !ok {
				return obj
			}
			if !schemaProperties[key] {
				return copyMap(inner)
			}
		}
	}

	for _, key := range wrapperKeys {
		inner, ok := obj[key].(map[string]any)
		if !ok {
			continue
		}
		for k, v := range inner {
			if _, exists := obj[k]; !exists {
				obj[k] = v
			}
		}
		delete(obj, key)
		break
	}
	return obj
}

func renameAliases(obj map[string]any) {
	for alias, canonical := range fieldAliases {
		if v, ok := obj[alias]; ok {
			if _, exists := obj[canonical]; !exists {
				obj[canonical] = v
			}
			delete(obj, alias)
		}
	}
}

// coerceEducationRelevance folds the legacy nested education_relevance
// object, or loose top-level fields, into the flat schema fields.
func coerceEducationRelevance(obj map[string]any) {
	for _, key := range []string{"education_relevance", "incident_review"} {
		er, ok := obj[key].(map[string]any)
		if !ok {
			continue
		}
		if v, ok := er["is_education_related"]; ok {
			if _, exists := obj["is_edu_cyber_incident"]; !exists {
				obj["is_edu_cyber_incident"] = v
			}
		}
		if v, ok := er["reasoning"]; ok {
			if _, exists := obj["education_relevance_reasoning"]; !exists {
				obj["education_relevance_reasoning"] = v
			}
		}
		for _, nameKey := range []string{"institution_identified", "institution_name"} {
			if v, ok := er[nameKey]; ok {
				if _, exists := obj["institution_name"]; !exists {
					obj["institution_name"] = v
				}
				break
			}
		}
		delete(obj, key)
	}

	if v, ok := obj["is_education_related"]; ok {
		if _, exists := obj["is_edu_cyber_incident"]; !exists {
			obj["is_edu_cyber_incident"] = v
		}
		delete(obj, "is_education_related")
	}
	if v, ok := obj["reasoning"]; ok {
		if _, exists := obj["education_relevance_reasoning"]; !exists {
			obj["education_relevance_reasoning"] = v
		}
		delete(obj, "reasoning")
	}
}

func dropDeprecated(obj map[string]any) {
	for _, key := range deprecatedFields {
		delete(obj, key)
	}
}

func normalizeTimeline(obj map[string]any) {
	list, ok := obj["timeline"].([]any)
	if !ok {
		return
	}

	var events []any
	for _, item := range list {
		event, ok := item.(map[string]any)
		if !ok {
			// Bare strings carry no structure worth keeping.
			continue
		}

		renameInMap(event, "description", "event_description")
		renameInMap(event, "event", "event_type")
		if _, ok := event["event_description"]; !ok {
			for _, k := range []string{"details", "summary", "note"} {
				if v, ok := event[k]; ok {
					event["event_description"] = toString(v)
					delete(event, k)
					break
				}
			}
		}

		if v, ok := event["event_type"]; ok && v != nil {
			event["event_type"] = coerceEnum(toString(v), timelineEventTypes, timelineEventAliases, "other")
		}
		if v, ok := event["date_precision"]; ok && v != nil {
			event["date_precision"] = coerceEnum(toString(v), timelinePrecisions, timelinePrecisionAliases, "approximate")
		}
		if v, ok := event["indicators"].([]any); ok && len(v) == 0 {
			event["indicators"] = nil
		}
		for k := range event {
			if !timelineEventFields[k] {
				delete(event, k)
			}
		}

		events = append(events, event)
	}

	if len(events) == 0 {
		obj["timeline"] = nil
		return
	}
	obj["timeline"] = events
}

func normalizeMitreTechniques(obj map[string]any) {
	value, present := obj["mitre_attack_techniques"]
	if !present {
		return
	}

	// A dict sometimes wraps the list as {"techniques": [...]}.
	if m, ok := value.(map[string]any); ok {
		if inner, ok := m["techniques"].([]any); ok {
			value = inner
		} else {
			obj["mitre_attack_techniques"] = nil
			return
		}
	}

	list, ok := value.([]any)
	if !ok {
		obj["mitre_attack_techniques"] = nil
		return
	}

	var techniques []any
	for _, item := range list {
		switch tech := item.(type) {
		case string:
			if parsed := parseMitreString(tech); parsed != nil {
				techniques = append(techniques, parsed)
			}
		case map[string]any:
			normalizeMitreObject(tech)
			techniques = append(techniques, tech)
		}
	}

	if len(techniques) == 0 {
		obj["mitre_attack_techniques"] = nil
		return
	}
	obj["mitre_attack_techniques"] = techniques
}

// parseMitreString converts "T1078: Valid Accounts" (or a bare "T1078") into
// the structured form.
func parseMitreString(s string) map[string]any {
	m := mitreTechniquePattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return nil
	}
	tech := map[string]any{
		"technique_id":   m[1],
		"technique_name": nil,
		"tactic":         nil,
		"description":    nil,
		"sub_techniques": nil,
	}
	if name := strings.TrimSpace(m[2]); name != "" {
		tech["technique_name"] = name
	}
	return tech
}

var mitreTacticIDs = map[string]string{
	"TA0043": "reconnaissance",
	"TA0042": "resource_development",
	"TA0001": "initial_access",
	"TA0002": "execution",
	"TA0003": "persistence",
	"TA0004": "privilege_escalation",
	"TA0005": "defense_evasion",
	"TA0006": "credential_access",
	"TA0007": "discovery",
	"TA0008": "lateral_movement",
	"TA0009": "collection",
	"TA0011": "command_and_control",
	"TA0010": "exfiltration",
	"TA0040": "impact",
}

func normalizeMitreObject(tech map[string]any) {
	for _, aliases := range [][2]string{
		{"id", "technique_id"}, {"mitre_id", "technique_id"}, {"attack_id", "technique_id"},
		{"name", "technique_name"}, {"title", "technique_name"},
		{"tactic_name", "tactic"}, {"kill_chain_phase", "tactic"}, {"mitre_tactic", "tactic"},
		{"how_used", "description"}, {"usage", "description"}, {"details", "description"},
	} {
		renameInMap(tech, aliases[0], aliases[1])
	}

	if _, ok := tech["tactic"]; !ok {
		if id, ok := tech["tactic_id"].(string); ok {
			if name, known := mitreTacticIDs[id]; known {
				tech["tactic"] = name
			}
		}
	}
	if v, ok := tech["tactic"]; ok && v != nil {
		tactic := coerceEnum(toString(v), mitreTactics, mitreTacticAliases, "")
		if tactic == "" {
			tech["tactic"] = nil
		} else {
			tech["tactic"] = tactic
		}
	}
	if v, ok := tech["sub_techniques"].([]any); ok && len(v) == 0 {
		tech["sub_techniques"] = nil
	}

	for _, key := range deprecatedFields {
		delete(tech, key)
	}
	for k := range tech {
		if !mitreTechniqueFields[k] {
			delete(tech, k)
		}
	}
}

// normalizeScalarEnums coerces free-form scalar enum values (lists collapse
// to their first element first).
func normalizeScalarEnums(obj map[string]any) {
	for field, spec := range scalarEnumFields {
		value, present := obj[field]
		if !present || value == nil {
			continue
		}

		if list, ok := value.([]any); ok {
			if len(list) == 0 {
				obj[field] = nil
				continue
			}
			value = list[0]
		}

		coerced := coerceEnum(toString(value), spec.values, spec.aliases, spec.fallback)
		if coerced == "" {
			obj[field] = nil
		} else {
			obj[field] = coerced
		}
	}
}

// normalizeListEnums coerces list-valued enum fields. Unmatched elements take
// the field's fallback ("other" for most lists); for lists without a fallback
// (attack_chain, recovery_phases) they are dropped.
func normalizeListEnums(obj map[string]any) {
	for field, spec := range listEnumFields {
		value, present := obj[field]
		if !present || value == nil {
			continue
		}

		list, ok := value.([]any)
		if !ok {
			list = []any{value}
		}

		var out []any
		seen := make(map[string]bool)
		for _, item := range list {
			coerced := coerceEnum(toString(item), spec.values, spec.aliases, spec.fallback)
			if coerced != "" && !seen[coerced] {
				seen[coerced] = true
				out = append(out, coerced)
			}
		}

		if len(out) == 0 {
			obj[field] = nil
		} else {
			obj[field] = out
		}
	}
}

func normalizeBooleans(obj map[string]any) {
	for _, field := range booleanFields {
		value, present := obj[field]
		if !present || value == nil {
			continue
		}

		switch v := value.(type) {
		case bool:
			// already strict
		case string:
			obj[field] = parseBoolString(v)
		case map[string]any:
			// {"confirmed": true} style objects
			if c, ok := v["confirmed"].(bool); ok {
				obj[field] = c
			} else if c, ok := v["occurred"].(bool); ok {
				obj[field] = c
			} else {
				obj[field] = nil
			}
		case float64:
			obj[field] = v != 0
		default:
			obj[field] = nil
		}
	}
}

// parseBoolString maps yes/no/unknown words onto bool or null. "unknown"
// becomes null, never false.
func parseBoolString(s string) any {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "true", "confirmed", "occurred", "1":
		return true
	case "no", "false", "not", "none", "0":
		return false
	default:
		return nil
	}
}

var moneyPattern = regexp.MustCompile(`(?i)[\$€£]?\s*([\d,]+(?:\.\d+)?)\s*(million|m|billion|b|thousand|k)?`)

func normalizeNumbers(obj map[string]any) {
	for _, field := range numericFields {
		value, present := obj[field]
		if !present || value == nil {
			continue
		}

		switch v := value.(type) {
		case float64:
			// already numeric
		case string:
			if n, ok := parseMoney(v); ok {
				obj[field] = n
			} else {
				obj[field] = nil
			}
		default:
			obj[field] = nil
		}
	}

	for _, field := range integerFields {
		value, present := obj[field]
		if !present || value == nil {
			continue
		}
		switch v := value.(type) {
		case float64:
			obj[field] = float64(int64(v))
		case string:
			if n, ok := parseMoney(v); ok {
				obj[field] = float64(int64(n))
			} else {
				obj[field] = nil
			}
		default:
			obj[field] = nil
		}
	}
}

// parseMoney converts "$4.75 million" style strings into plain numbers.
func parseMoney(s string) (float64, bool) {
	m := moneyPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil || m[1] == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return 0, false
	}
	switch strings.ToLower(m[2]) {
	case "million", "m":
		n *= 1e6
	case "billion", "b":
		n *= 1e9
	case "thousand", "k":
		n *= 1e3
	}
	return n, true
}

// dateFields carry a strict YYYY-MM-DD pattern in the schema; loose model
// output like "April 2024" is normalized or nulled.
var dateFields = []string{
	"incident_date", "discovery_date", "publication_date",
	"outage_start_date", "outage_end_date", "notification_sent_date",
	"recovery_started_date", "recovery_completed_date",
	"public_disclosure_date",
}

func normalizeDates(obj map[string]any) {
	for _, field := range dateFields {
		value, present := obj[field]
		if !present || value == nil {
			continue
		}
		s, ok := value.(string)
		if !ok {
			obj[field] = nil
			continue
		}
		if iso := domain.NormalizeISODate(s); iso != "" {
			obj[field] = iso
		} else if iso, prec := domain.ParseDateWithPrecision(s); prec != domain.PrecisionUnknown {
			obj[field] = iso
		} else {
			obj[field] = nil
		}
	}

	if list, ok := obj["timeline"].([]any); ok {
		for _, item := range list {
			event, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if s, ok := event["date"].(string); ok {
				if iso := domain.NormalizeISODate(s); iso != "" {
					event["date"] = iso
				} else {
					event["date"] = nil
				}
			}
		}
	}
}

func normalizeDatePrecision(obj map[string]any) {
	value, present := obj["incident_date_precision"]
	if !present || value == nil {
		return
	}
	obj["incident_date_precision"] = coerceEnum(toString(value), incidentDatePrecisions, incidentDatePrecisionAliases, "unknown")
}

func normalizeCountryCode(obj map[string]any) {
	value, present := obj["country_code"]
	if !present || value == nil {
		return
	}
	code := strings.ToUpper(strings.TrimSpace(toString(value)))
	if countryCodePattern.MatchString(code) {
		obj["country_code"] = code
	} else {
		obj["country_code"] = nil
	}
}

func normalizeIOCs(obj map[string]any) {
	iocs, ok := obj["iocs"].(map[string]any)
	if !ok {
		return
	}
	for k := range iocs {
		if !iocFields[k] {
			delete(iocs, k)
		}
	}
}

// dropUnknownStrings nulls out scalar fields whose value is a literal
// "unknown"/"n/a" placeholder. Enum fields keep their "unknown" members.
func dropUnknownStrings(obj map[string]any) {
	for key, value := range obj {
		s, ok := value.(string)
		if !ok {
			continue
		}
		if _, isEnum := scalarEnumFields[key]; isEnum || key == "incident_date_precision" {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "unknown", "n/a", "not available", "not specified":
			obj[key] = nil
		}
	}
}

// dropUnknownKeys removes keys the strict schema does not know; the schema
// forbids additional properties.
func dropUnknownKeys(obj map[string]any) {
	for key := range obj {
		if !schemaProperties[key] {
			delete(obj, key)
		}
	}
}

func ensureRequired(obj map[string]any) {
	if _, ok := obj["is_edu_cyber_incident"]; !ok {
		obj["is_edu_cyber_incident"] = false
	}
	if b, ok := obj["is_edu_cyber_incident"].(bool); !ok {
		if coerced := parseBoolString(toString(obj["is_edu_cyber_incident"])); coerced != nil {
			obj["is_edu_cyber_incident"] = coerced
		} else {
			obj["is_edu_cyber_incident"] = false
		}
	} else {
		obj["is_edu_cyber_incident"] = b
	}

	summary, _ := obj["enriched_summary"].(string)
	if strings.TrimSpace(summary) == "" {
		obj["enriched_summary"] = "Summary not provided by the extraction model"
	}
}

func renameInMap(m map[string]any, from, to string) {
	if v, ok := m[from]; ok {
		if _, exists := m[to]; !exists {
			m[to] = v
		}
		delete(m, from)
	}
}

// coerceEnum maps a free-form value onto a closed set: exact match first,
// then the alias map, then a substring scan over aliases, then fallback
// ("" means drop).
func coerceEnum(value string, valid map[string]bool, aliases map[string]string, fallback string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	v = strings.ReplaceAll(v, " ", "_")
	if valid[v] {
		return v
	}

	loose := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(value)), "_", " ")
	if mapped, ok := aliases[loose]; ok {
		return mapped
	}

	for alias, mapped := range aliases {
		if strings.Contains(loose, alias) {
			return mapped
		}
	}

	if fallback != "" && valid[fallback] {
		return fallback
	}
	return fallback
}

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	default:
		return ""
	}
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
