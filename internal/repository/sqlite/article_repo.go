package sqlite

import (
	"context"
	"fmt"

	"github.com/eduthreat/cti-pipeline/internal/domain"
	"github.com/eduthreat/cti-pipeline/internal/repository"
)

type articleRepository struct {
	db *DB
}

// NewArticleRepository creates an article repository on the embedded store
func NewArticleRepository(db *DB) repository.ArticleRepository {
	if db == nil {
		panic("database cannot be nil")
	}
	return &articleRepository{db: db}
}

// Upsert inserts or replaces a fetched article
func (r *articleRepository) Upsert(ctx context.Context, article *domain.Article) error {
	if article == nil {
		return fmt.Errorf("article cannot be nil")
	}

	if err := article.Validate(); err != nil {
		return fmt.Errorf("invalid article: %w", err)
	}

	_, err := r.db.conn.ExecContext(ctx, `
		INSERT INTO articles (incident_id, url, title, author, publish_date, content,
			fetch_successful, error_message, content_length, is_primary)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (incident_id, url) DO UPDATE SET
			title = excluded.title,
			author = excluded.author,
			publish_date = excluded.publish_date,
			content = excluded.content,
			fetch_successful = excluded.fetch_successful,
			error_message = excluded.error_message,
			content_length = excluded.content_length,
			is_primary = excluded.is_primary`,
		article.IncidentID,
		article.URL,
		article.Title,
		article.Author,
		article.PublishDate,
		article.Content,
		boolToInt(article.FetchSuccessful),
		article.ErrorMessage,
		article.ContentLength,
		boolToInt(article.IsPrimary),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert article: %w", err)
	}
	return nil
}

// GetByIncident retrieves all articles for an incident
func (r *articleRepository) GetByIncident(ctx context.Context, incidentID string) ([]*domain.Article, error) {
	if incidentID == "" {
		return nil, fmt.Errorf("incident id cannot be empty")
	}

	rows, err := r.db.conn.QueryContext(ctx, `
		SELECT incident_id, url, title, author, publish_date, content,
			fetch_successful, error_message, content_length, is_primary
		FROM articles WHERE incident_id = ?`, incidentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query articles: %w", err)
	}
	defer rows.Close()

	var articles []*domain.Article
	for rows.Next() {
		var (
			a               domain.Article
			fetchSuccessful int
			isPrimary       int
		)
		err := rows.Scan(
			&a.IncidentID,
			&a.URL,
			&a.Title,
			&a.Author,
			&a.PublishDate,
			&a.Content,
			&fetchSuccessful,
			&a.ErrorMessage,
			&a.ContentLength,
			&isPrimary,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan article: %w", err)
		}
		a.FetchSuccessful = fetchSuccessful == 1
		a.IsPrimary = isPrimary == 1
		articles = append(articles, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate articles: %w", err)
	}

	return articles, nil
}

// DeleteByIncident removes all articles for an incident
func (r *articleRepository) DeleteByIncident(ctx context.Context, incidentID string) error {
	if incidentID == "" {
		return fmt.Errorf("incident id cannot be empty")
	}

	if _, err := r.db.conn.ExecContext(ctx,
		"DELETE FROM articles WHERE incident_id = ?", incidentID); err != nil {
		return fmt.Errorf("failed to delete articles: %w", err)
	}
	return nil
}
