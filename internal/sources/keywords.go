package sources

import "strings"

// MatchesEducationKeywords reports whether text mentions any education-sector
// keyword.
func MatchesEducationKeywords(text string) bool {
	if text == "" {
		return false
	}
	lowered := strings.ToLower(text)
	for _, k := range EducationKeywords {
		if strings.Contains(lowered, k) {
			return true
		}
	}
	return false
}

// MatchesKeywords reports whether text contains any of the given keywords or
// an education keyword.
func MatchesKeywords(text string, keywords []string) bool {
	if text == "" {
		return false
	}
	lowered := strings.ToLower(text)
	if MatchesEducationKeywords(lowered) {
		return true
	}
	for _, k := range keywords {
		if strings.Contains(lowered, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

// HasEducationCategory reports whether an RSS category list flags the item as
// education-sector.
func HasEducationCategory(categories []string) bool {
	keywords := []string{
		"education sector",
		"education",
		"university",
		"school",
		"college",
		"academic",
	}
	for _, cat := range categories {
		lowered := strings.ToLower(cat)
		for _, k := range keywords {
			if strings.Contains(lowered, k) {
				return true
			}
		}
	}
	return false
}
