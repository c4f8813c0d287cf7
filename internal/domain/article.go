package domain

import "fmt"

// Article holds fetched article content associated with one incident. During
// enrichment scoring an incident may hold several of these; after primary
// selection only the primary row survives.
type Article struct {
	IncidentID      string  `json:"incident_id"`
	URL             string  `json:"url"`
	Title           string  `json:"title"`
	Author          *string `json:"author,omitempty"`
	PublishDate     *string `json:"publish_date,omitempty"` // YYYY-MM-DD
	Content         string  `json:"content"`
	FetchSuccessful bool    `json:"fetch_successful"`
	ErrorMessage    *string `json:"error_message,omitempty"`
	ContentLength   int     `json:"content_length"`
	IsPrimary       bool    `json:"is_primary"`
}

// Validate performs validation on the Article
func (a *Article) Validate() error {
	if a.IncidentID == "" {
		return fmt.Errorf("incident_id is required")
	}

	if a.URL == "" {
		return fmt.Errorf("url is required")
	}

	if a.FetchSuccessful && a.Content == "" {
		return fmt.Errorf("successful article must have content")
	}

	if a.ContentLength < 0 {
		return fmt.Errorf("content_length cannot be negative")
	}

	return nil
}

// Usable reports whether the article carries enough text to be worth sending
// to the extraction model.
func (a *Article) Usable() bool {
	return a.FetchSuccessful && len(a.Content) > 50
}
