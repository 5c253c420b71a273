package dashboard

import "strings"

// FilterAll disables a status or priority filter
const FilterAll = "all"

// TicketFilter narrows the administrator ticket list
type TicketFilter struct {
	Search   string `query:"q" form:"q" json:"q"`
	Status   string `query:"status" form:"status" json:"status"`
	Priority string `query:"priority" form:"priority" json:"priority"`
}

// Normalize fills empty fields with FilterAll and trims the search term
func (f TicketFilter) Normalize() TicketFilter {
	f.Search = strings.TrimSpace(f.Search)
	if f.Status == "" {
		f.Status = FilterAll
	}
	if f.Priority == "" {
		f.Priority = FilterAll
	}
	return f
}

// Match reports whether a ticket passes every filter. The search term is
// matched case-insensitively against the title, the description and the
// owner's name and e-mail.
func (f TicketFilter) Match(t SupportTicket) bool {
	f = f.Normalize()

	if f.Status != FilterAll && t.Status != f.Status {
		return false
	}

	if f.Priority != FilterAll && t.Priority != f.Priority {
		return false
	}

	if f.Search == "" {
		return true
	}

	term := strings.ToLower(f.Search)
	fields := []string{t.Title, t.Description}
	if t.Owner != nil {
		fields = append(fields, t.Owner.FullName, t.Owner.Email)
	}

	for _, field := range fields {
		if strings.Contains(strings.ToLower(field), term) {
			return true
		}
	}
	return false
}

// FilterTickets returns the tickets matching f, preserving order
func FilterTickets(tickets []SupportTicket, f TicketFilter) []SupportTicket {
	out := make([]SupportTicket, 0, len(tickets))
	for _, t := range tickets {
		if f.Match(t) {
			out = append(out, t)
		}
	}
	return out
}
