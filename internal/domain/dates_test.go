package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseDateWithPrecision(t *testing.T) {
	tests := []struct {
		raw       string
		wantDate  string
		wantPrec  DatePrecision
	}{
		{"April 17, 2025", "2025-04-17", PrecisionDay},
		{"Apr 17, 2025", "2025-04-17", PrecisionDay},
		{"10 December 2021", "2021-12-10", PrecisionDay},
		{"10 Dec 2021", "2021-12-10", PrecisionDay},
		{"2025-08-11", "2025-08-11", PrecisionDay},
		{"December 2021", "2021-12-01", PrecisionMonth},
		{"Dec 2021", "2021-12-01", PrecisionMonth},
		{"2021", "2021-01-01", PrecisionYear},
		{"", "", PrecisionUnknown},
		{"yesterday", "", PrecisionUnknown},
		{"13/13/2020", "", PrecisionUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			date, prec := ParseDateWithPrecision(tt.raw)
			assert.Equal(t, tt.wantDate, date)
			assert.Equal(t, tt.wantPrec, prec)
		})
	}
}

func TestNormalizeISODate(t *testing.T) {
	assert.Equal(t, "2025-11-19", NormalizeISODate("Wed, 19 Nov 2025 16:23:06 +0000"))
	assert.Equal(t, "2025-11-19", NormalizeISODate("2025-11-19T16:23:06Z"))
	assert.Equal(t, "2025-11-19", NormalizeISODate("2025-11-19"))
	assert.Equal(t, "2025-04-17", NormalizeISODate("April 17, 2025"))
	assert.Equal(t, "", NormalizeISODate("not a date"))
	assert.Equal(t, "", NormalizeISODate(""))
}
