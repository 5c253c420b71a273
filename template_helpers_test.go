package portal_test

import (
	"testing"
	"time"

	portal "github.com/goliatone/go-portal"
	"github.com/stretchr/testify/assert"
)

func TestFormatCurrency(t *testing.T) {
	tests := []struct {
		name     string
		value    any
		expected string
	}{
		{name: "small amount", value: int64(4990), expected: "49,90 €"},
		{name: "four integer digits stay ungrouped", value: int64(123456), expected: "1234,56 €"},
		{name: "five integer digits are grouped", value: int64(1234567), expected: "12 345,67 €"},
		{name: "millions", value: 123456789, expected: "1 234 567,89 €"},
		{name: "zero", value: 0, expected: "0,00 €"},
		{name: "negative", value: int64(-250), expected: "-2,50 €"},
		{name: "nil pointer", value: (*int64)(nil), expected: ""},
		{name: "unsupported type", value: "12", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, portal.FormatCurrency(tt.value))
		})
	}
}

func TestFormatDate(t *testing.T) {
	d := time.Date(2026, time.March, 7, 15, 4, 0, 0, time.UTC)

	assert.Equal(t, "07/03/2026", portal.FormatDate(d))
	assert.Equal(t, "07/03/2026", portal.FormatDate(&d))
	assert.Empty(t, portal.FormatDate((*time.Time)(nil)))
	assert.Empty(t, portal.FormatDate(time.Time{}))
	assert.Empty(t, portal.FormatDate("2026-03-07"))
}

func TestInitials(t *testing.T) {
	assert.Equal(t, "JS", portal.Initials("joana maria silva", "j@example.com"))
	assert.Equal(t, "Á", portal.Initials("álvaro", ""))
	assert.Equal(t, "J", portal.Initials("   ", "j@example.com"))
	assert.Equal(t, "?", portal.Initials("", ""))
}

func TestTemplateHelpersRegistered(t *testing.T) {
	helpers := portal.TemplateHelpers()

	for _, name := range []string{"format_date", "relative_time", "format_currency", "initials", "ticket_status_label", "ticket_statuses"} {
		assert.Contains(t, helpers, name)
	}
}

func TestRelativeTimeFrom(t *testing.T) {
	now := time.Date(2026, time.May, 20, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		at       time.Time
		expected string
	}{
		{name: "just now", at: now.Add(-10 * time.Second), expected: "há menos de um minuto"},
		{name: "one minute", at: now.Add(-70 * time.Second), expected: "há 1 minuto"},
		{name: "minutes", at: now.Add(-12 * time.Minute), expected: "há 12 minutos"},
		{name: "about an hour", at: now.Add(-50 * time.Minute), expected: "há cerca de 1 hora"},
		{name: "hours", at: now.Add(-5 * time.Hour), expected: "há cerca de 5 horas"},
		{name: "one day", at: now.Add(-30 * time.Hour), expected: "há 1 dia"},
		{name: "days", at: now.AddDate(0, 0, -3), expected: "há 3 dias"},
		{name: "about a month", at: now.AddDate(0, 0, -40), expected: "há cerca de 1 mês"},
		{name: "months", at: now.AddDate(0, -5, 0), expected: "há 5 meses"},
		{name: "about a year", at: now.AddDate(-1, -1, 0), expected: "há cerca de 1 ano"},
		{name: "over years", at: now.AddDate(-2, -5, 0), expected: "há mais de 2 anos"},
		{name: "almost years", at: now.AddDate(-2, -10, 0), expected: "há quase 3 anos"},
		{name: "future", at: now.AddDate(0, 0, 2), expected: "em 2 dias"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, portal.RelativeTimeFrom(tt.at, now))
		})
	}
}

func TestRelativeTime(t *testing.T) {
	recent := time.Now().Add(-3 * 24 * time.Hour)

	assert.Equal(t, "há 3 dias", portal.RelativeTime(recent))
	assert.Equal(t, "há 3 dias", portal.RelativeTime(&recent))
	assert.Empty(t, portal.RelativeTime((*time.Time)(nil)))
	assert.Empty(t, portal.RelativeTime(time.Time{}))
	assert.Empty(t, portal.RelativeTime("2026-05-20"))
}
