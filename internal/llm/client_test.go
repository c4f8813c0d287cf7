package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRateLimitError(t *testing.T) {
	rateLimited := []error{
		errors.New("429 Too Many Requests"),
		errors.New("rate limit exceeded, retry later"),
		errors.New("monthly quota exhausted"),
		errors.New("request throttled"),
		errors.New("limit exceeded for model"),
	}
	for _, err := range rateLimited {
		assert.True(t, isRateLimitError(err), err.Error())
	}

	notRateLimited := []error{
		errors.New("connection refused"),
		errors.New("500 internal server error"),
		errors.New("invalid api key"),
		nil,
	}
	for _, err := range notRateLimited {
		assert.False(t, isRateLimitError(err))
	}
}

func TestBackoffFor(t *testing.T) {
	assert.Equal(t, 2*time.Second, backoffFor(1))
	assert.Equal(t, 4*time.Second, backoffFor(2))
	assert.Equal(t, 8*time.Second, backoffFor(3))
	assert.Equal(t, 16*time.Second, backoffFor(4))
	assert.Equal(t, 32*time.Second, backoffFor(5))
	// capped at five minutes
	assert.Equal(t, 5*time.Minute, backoffFor(12))
}

func TestCleanJSONResponseFences(t *testing.T) {
	raw := "Here is the analysis:\n```json\n{\"is_edu_cyber_incident\": true}\n```\nDone."
	assert.Equal(t, `{"is_edu_cyber_incident": true}`, CleanJSONResponse(raw))
}

func TestCleanJSONResponseBareObject(t *testing.T) {
	raw := `Sure! {"a": 1, "b": {"c": 2}} hope that helps`
	assert.Equal(t, `{"a": 1, "b": {"c": 2}}`, CleanJSONResponse(raw))
}

func TestCleanJSONResponsePassthrough(t *testing.T) {
	raw := `{"already": "clean"}`
	assert.Equal(t, raw, CleanJSONResponse(raw))
}

func TestCleanJSONResponseEscapedNewlines(t *testing.T) {
	raw := `{\n  "key": "value"\n}`
	cleaned := CleanJSONResponse(raw)
	assert.Contains(t, cleaned, "\n")
	assert.NotContains(t, cleaned, `\n  "key"`)
}

func TestRepairJSONEscapes(t *testing.T) {
	broken := `{"note": "the school\'s network"}`
	assert.Equal(t, `{"note": "the school's network"}`, RepairJSONEscapes(broken))
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Config{Model: "m"}, testLogger())
	assert.Error(t, err)

	_, err = NewClient(Config{APIKey: "k"}, testLogger())
	assert.Error(t, err)

	c, err := NewClient(Config{APIKey: "k", Model: "m", MaxRetries: 2}, testLogger())
	require.NoError(t, err)
	assert.NotNil(t, c)
}

// TestExtractRateLimitBackoffSchedule checks the waits Extract sleeps between
// consecutive rate-limit hits: 2/4/8/16 seconds before the fifth hit, which
// surfaces as *RateLimitError.
func TestExtractRateLimitBackoffSchedule(t *testing.T) {
	waits := []time.Duration{}
	for i := 1; i < maxRateLimitRetries; i++ {
		waits = append(waits, backoffFor(i))
	}
	assert.Equal(t, []time.Duration{
		2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second,
	}, waits)
}

func TestRateLimitErrorWrapping(t *testing.T) {
	inner := fmt.Errorf("429 too many requests")
	err := fmt.Errorf("enrichment failed: %w", &RateLimitError{Attempts: 5, Err: inner})

	assert.True(t, IsRateLimit(err))
	assert.False(t, IsRateLimit(context.Canceled))
	assert.Contains(t, err.Error(), "5 attempts")
}

func testLogger() zerolog.Logger { return zerolog.Nop() }
