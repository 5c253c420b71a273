package portal

import (
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/goliatone/go-portal/dashboard"
)

const nbsp = " "

// DateLayout is the pt-PT short date layout
const DateLayout = "02/01/2006"

// TemplateHelpers returns the functions registered with the view engine.
//
// In templates:
//
//	{{ format_date(invoice.DueDate) }}
//	{{ format_currency(invoice.AmountCents) }}
//	{{ ticket_status_label(ticket.Status) }}
func TemplateHelpers() map[string]any {
	return map[string]any{
		"format_date":                 FormatDate,
		"relative_time":               RelativeTime,
		"format_currency":             FormatCurrency,
		"initials":                    Initials,
		"subscription_status_label":   dashboard.SubscriptionStatusLabel,
		"subscription_status_variant": dashboard.SubscriptionStatusVariant,
		"service_status_label":        dashboard.ServiceStatusLabel,
		"invoice_status_label":        dashboard.InvoiceStatusLabel,
		"invoice_status_variant":      dashboard.InvoiceStatusVariant,
		"ticket_status_label":         dashboard.TicketStatusLabel,
		"ticket_status_variant":       dashboard.TicketStatusVariant,
		"priority_label":              dashboard.PriorityLabel,
		"priority_variant":            dashboard.PriorityVariant,
		"ticket_statuses":             dashboard.TicketStatuses,
		"ticket_priorities":           dashboard.TicketPriorities,
	}
}

// FormatDate renders t as dd/mm/yyyy. It accepts time.Time and *time.Time;
// nil and zero times render as an empty string.
func FormatDate(value any) string {
	var t time.Time
	switch v := value.(type) {
	case time.Time:
		t = v
	case *time.Time:
		if v == nil {
			return ""
		}
		t = *v
	default:
		return ""
	}
	if t.IsZero() {
		return ""
	}
	return t.Format(DateLayout)
}

// FormatCurrency renders an amount in cents as euros the pt-PT way:
// comma decimals, a no-break space as thousands separator from five
// integer digits up and the symbol after the amount.
func FormatCurrency(value any) string {
	var cents int64
	switch v := value.(type) {
	case int64:
		cents = v
	case int:
		cents = int64(v)
	case int32:
		cents = int64(v)
	case *int64:
		if v == nil {
			return ""
		}
		cents = *v
	default:
		return ""
	}

	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}

	units := fmt.Sprintf("%d", cents/100)
	if len(units) >= 5 {
		units = group(units)
	}

	return fmt.Sprintf("%s%s,%02d%s€", sign, units, cents%100, nbsp)
}

func group(digits string) string {
	var b strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteString(nbsp)
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}

// Initials returns up to two upper case letters for an avatar: the first
// letters of the first and last words of name, or the first letter of the
// fallback when name is blank.
func Initials(name, fallback string) string {
	words := strings.Fields(name)
	if len(words) == 0 {
		if fallback == "" {
			return "?"
		}
		r, _ := utf8.DecodeRuneInString(fallback)
		return string(unicode.ToUpper(r))
	}

	first, _ := utf8.DecodeRuneInString(words[0])
	out := string(unicode.ToUpper(first))
	if len(words) > 1 {
		last, _ := utf8.DecodeRuneInString(words[len(words)-1])
		out += string(unicode.ToUpper(last))
	}
	return out
}
