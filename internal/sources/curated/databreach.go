package curated

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"github.com/eduthreat/cti-pipeline/internal/domain"
	"github.com/eduthreat/cti-pipeline/internal/fetch"
	"github.com/eduthreat/cti-pipeline/internal/sources"
)

const databreachSource = "databreaches"

var databreachArchiveURL = "https://databreaches.net/category/breach-incidents/education-sector/"

// DataBreach walks the education-sector archive of databreaches.net:
// discover the last page from the pagination block, then walk pages 1..N,
// saving each page as its own batch.
type DataBreach struct {
	client *fetch.Client
	logger zerolog.Logger
}

// NewDataBreach creates the databreaches.net archive adapter.
func NewDataBreach(client *fetch.Client, logger zerolog.Logger) *DataBreach {
	if client == nil {
		panic("client cannot be nil")
	}
	return &DataBreach{client: client, logger: logger}
}

// Name returns the stable source identifier
func (d *DataBreach) Name() string { return databreachSource }

// Group returns the source group
func (d *DataBreach) Group() domain.SourceGroup { return domain.GroupCurated }

// Collect walks the paginated archive. Each page's incidents are saved
// before the next page is fetched so long walks persist partial progress.
func (d *DataBreach) Collect(ctx context.Context, opts sources.CollectOptions, sink sources.Sink) error {
	firstPage, err := d.client.GetDocument(ctx, databreachArchiveURL, fetch.Options{})
	if err != nil {
		return fmt.Errorf("failed to fetch archive first page: %w", err)
	}
	if firstPage == nil {
		return fmt.Errorf("archive first page unavailable")
	}

	lastPage := LastPageFromNumbers(firstPage)
	if opts.MaxPages > 0 && lastPage > opts.MaxPages {
		lastPage = opts.MaxPages
	}

	d.logger.Info().Int("pages", lastPage).Msg("databreaches archive walk starting")

	for page := 1; page <= lastPage; page++ {
		doc := firstPage
		if page > 1 {
			doc, err = d.client.GetDocument(ctx, fmt.Sprintf("%spage/%d/", databreachArchiveURL, page), fetch.Options{Allow404: true})
			if err != nil {
				return fmt.Errorf("failed to fetch archive page %d: %w", page, err)
			}
			if doc == nil {
				break
			}
		}

		incidents := d.parsePage(doc)
		if len(incidents) == 0 {
			continue
		}
		if err := sink.Save(ctx, incidents); err != nil {
			return fmt.Errorf("failed to save archive page %d: %w", page, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	return nil
}

func (d *DataBreach) parsePage(doc *goquery.Document) []domain.Incident {
	ingestedAt := domain.NowUTC()
	var incidents []domain.Incident

	doc.Find("article").Each(func(_ int, art *goquery.Selection) {
		link := art.Find("h2 a, h3 a, .entry-title a").First()
		title := strings.TrimSpace(link.Text())
		href := strings.TrimSpace(link.AttrOr("href", ""))
		if title == "" || href == "" {
			return
		}

		rawDate := strings.TrimSpace(art.Find("time").First().AttrOr("datetime", ""))
		if rawDate == "" {
			rawDate = strings.TrimSpace(art.Find("time, .entry-date, .posted-on").First().Text())
		}
		dateISO := domain.NormalizeISODate(rawDate)

		var incidentDate *string
		precision := domain.PrecisionUnknown
		if dateISO != "" {
			incidentDate = &dateISO
			precision = domain.PrecisionDay
		}

		subtitle := strings.TrimSpace(art.Find(".entry-summary, .entry-content p").First().Text())

		incidents = append(incidents, domain.Incident{
			IncidentID:          domain.MakeIncidentID(databreachSource, href),
			Source:              databreachSource,
			SourceEventID:       domain.StrPtr(href),
			IncidentDate:        incidentDate,
			DatePrecision:       precision,
			SourcePublishedDate: incidentDate,
			IngestedAt:          ingestedAt,
			Title:               domain.StrPtr(title),
			Subtitle:            domain.StrPtr(subtitle),
			AllURLs:             []string{href},
			Status:              domain.StatusSuspected,
			SourceConfidence:    domain.ConfidenceHigh,
		})
	})

	return incidents
}

// LastPageFromNumbers returns the highest page number in a WordPress-style
// page-numbers pagination block, or 1 when none is present.
func LastPageFromNumbers(doc *goquery.Document) int {
	maxPage := 1
	doc.Find(".page-numbers").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if n, err := strconv.Atoi(strings.ReplaceAll(text, ",", "")); err == nil && n > maxPage {
			maxPage = n
			return
		}
		href := strings.TrimRight(s.AttrOr("href", ""), "/")
		if idx := strings.LastIndex(href, "/"); idx >= 0 {
			if n, err := strconv.Atoi(href[idx+1:]); err == nil && n > maxPage {
				maxPage = n
			}
		}
	})
	return maxPage
}
