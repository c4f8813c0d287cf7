package enrich

import "fmt"

// SystemPrompt positions the model as a CTI analyst and pins the output
// contract to pure JSON.
const SystemPrompt = "You are a Cyber Threat Intelligence Analyst. " +
	"Output ONLY valid JSON matching the provided schema. " +
	"No prose, no explanations, no markdown - pure JSON only."

const promptHeader = `You are a Senior Cyber Threat Intelligence (CTI) Analyst specializing in educational sector cyber incidents. Analyze the article and extract COMPREHENSIVE threat intelligence data for cross-incident analysis.

CRITICAL OUTPUT REQUIREMENTS:

1. EDUCATION RELEVANCE (MANDATORY FIRST ANALYSIS):
   - is_edu_cyber_incident: true ONLY if the incident involves an educational
     institution (university, college, school, school district, research institute)
   - education_relevance_reasoning: 1-2 sentences citing evidence from the article

2. OUTPUT FORMAT:
   - Output ONLY valid JSON matching the JSON Schema below
   - No prose, explanations, markdown, code blocks, or backticks

3. NULL VALUES FOR UNKNOWN INFORMATION:
   - If information is NOT mentioned in the article, set the field to null
   - Do NOT guess, assume, or infer values
   - Boolean fields: null if not mentioned (NOT false)
   - Array fields: null if no items found (NOT empty array)
   - Number fields: null if not mentioned (NOT 0)

4. USE EXACT ENUM TAGS from the schema for attack_category, attack_vector,
   ransomware_family, data_categories, systems_affected, operational_impacts,
   security_improvements, and all other enumerated fields. Pick the MOST
   SPECIFIC value that applies.

5. STANDARDIZED NUMERIC VALUES:
   - Convert ALL monetary amounts to USD numbers: "$4.75 million" -> 4750000
   - downtime_days: "2 weeks" -> 14; outage_duration_hours: "3 days" -> 72
   - User counts as integers: "45,000 students" -> 45000

6. DATE FORMATTING:
   - All dates MUST be ISO format YYYY-MM-DD; null for unknown dates

7. Extract IOCs (IP addresses, domains, hashes), MITRE ATT&CK techniques with
   tactics, the full attack chain, recovery timeline, and security improvements
   when mentioned. Note campaign relationships (attack_campaign_name).

JSON SCHEMA:

%s

ARTICLE INFORMATION:

- URL: %s
- Title: %s

ARTICLE CONTENT:

%s

---

Output ONLY the JSON object, no other text.`

// BuildExtractionPrompt renders the user prompt for one article.
func BuildExtractionPrompt(url, title, text string) string {
	return fmt.Sprintf(promptHeader, ExtractionSchema, url, title, text)
}
