package dashboard_test

import (
	"testing"

	"github.com/goliatone/go-portal/dashboard"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func tickets() []dashboard.SupportTicket {
	return []dashboard.SupportTicket{
		{
			Title:       "Problema com chatbot",
			Description: "Respostas erradas",
			Status:      dashboard.TicketOpen,
			Priority:    dashboard.PriorityMedium,
			Owner:       &dashboard.Profile{FullName: "Joana Silva", Email: "joana@example.com"},
		},
		{
			Title:       "Erro no agendamento",
			Description: "Jobs atrasados",
			Status:      dashboard.TicketInProgress,
			Priority:    dashboard.PriorityHigh,
			Owner:       &dashboard.Profile{FullName: "Rui Costa", Email: "rui@example.com"},
		},
		{
			Title:       "Dúvida sobre faturação",
			Description: "Última fatura",
			Status:      dashboard.TicketClosed,
			Priority:    dashboard.PriorityMedium,
		},
	}
}

func titles(in []dashboard.SupportTicket) []string {
	out := make([]string, 0, len(in))
	for _, t := range in {
		out = append(out, t.Title)
	}
	return out
}

func TestTicketFilterNormalize(t *testing.T) {
	f := dashboard.TicketFilter{Search: "  chatbot "}.Normalize()

	assert.Equal(t, "chatbot", f.Search)
	assert.Equal(t, dashboard.FilterAll, f.Status)
	assert.Equal(t, dashboard.FilterAll, f.Priority)
}

func TestFilterTickets(t *testing.T) {
	tests := []struct {
		name     string
		filter   dashboard.TicketFilter
		expected []string
	}{
		{
			name:     "no filter keeps order",
			filter:   dashboard.TicketFilter{},
			expected: []string{"Problema com chatbot", "Erro no agendamento", "Dúvida sobre faturação"},
		},
		{
			name:     "status",
			filter:   dashboard.TicketFilter{Status: dashboard.TicketInProgress},
			expected: []string{"Erro no agendamento"},
		},
		{
			name:     "priority",
			filter:   dashboard.TicketFilter{Status: dashboard.FilterAll, Priority: dashboard.PriorityMedium},
			expected: []string{"Problema com chatbot", "Dúvida sobre faturação"},
		},
		{
			name:     "search is case insensitive",
			filter:   dashboard.TicketFilter{Search: "CHATBOT"},
			expected: []string{"Problema com chatbot"},
		},
		{
			name:     "search matches owner email",
			filter:   dashboard.TicketFilter{Search: "rui@"},
			expected: []string{"Erro no agendamento"},
		},
		{
			name:     "search matches description",
			filter:   dashboard.TicketFilter{Search: "fatura"},
			expected: []string{"Dúvida sobre faturação"},
		},
		{
			name:     "filters combine",
			filter:   dashboard.TicketFilter{Search: "chatbot", Priority: dashboard.PriorityHigh},
			expected: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, titles(dashboard.FilterTickets(tickets(), tt.filter)))
		})
	}
}

func TestLabels(t *testing.T) {
	assert.Equal(t, "Em Progresso", dashboard.TicketStatusLabel(dashboard.TicketInProgress))
	assert.Equal(t, "Encerrado", dashboard.TicketStatusLabel(dashboard.TicketClosed))
	assert.Equal(t, "Média", dashboard.PriorityLabel(dashboard.PriorityMedium))
	assert.Equal(t, "Pagamento Pendente", dashboard.SubscriptionStatusLabel(dashboard.SubscriptionPastDue))
	assert.Equal(t, "Pausado", dashboard.ServiceStatusLabel(dashboard.ServicePaused))
	assert.Equal(t, "Falhou", dashboard.InvoiceStatusLabel(dashboard.InvoiceFailed))
	assert.Equal(t, "unknown", dashboard.TicketStatusLabel("unknown"))

	assert.Equal(t, dashboard.VariantDestructive, dashboard.PriorityVariant(dashboard.PriorityHigh))
	assert.Equal(t, dashboard.VariantSuccess, dashboard.InvoiceStatusVariant(dashboard.InvoicePaid))
	assert.Equal(t, dashboard.VariantWarning, dashboard.SubscriptionStatusVariant(dashboard.SubscriptionPastDue))
	assert.Equal(t, dashboard.VariantDefault, dashboard.TicketStatusVariant(dashboard.TicketOpen))
}

func TestModelHelpers(t *testing.T) {
	limit, current, over := 50, 28, 80

	assert.Equal(t, 56, dashboard.Service{UsageLimit: &limit, UsageCurrent: &current}.UsagePercent())
	assert.Equal(t, 100, dashboard.Service{UsageLimit: &limit, UsageCurrent: &over}.UsagePercent())
	assert.Equal(t, 0, dashboard.Service{}.UsagePercent())

	id := uuid.MustParse("3f2504e0-4f89-11d3-9a0c-0305e82c3301")
	assert.Equal(t, "3f2504", dashboard.SupportTicket{ID: id}.Number())
	assert.Equal(t, "3f2504e0", dashboard.Invoice{ID: id}.Number())

	var nilProfile *dashboard.Profile
	assert.Empty(t, nilProfile.DisplayName())
	assert.Equal(t, "a@b.com", (&dashboard.Profile{Email: "a@b.com"}).DisplayName())
	assert.Equal(t, "Ana", (&dashboard.Profile{FullName: "Ana", Email: "a@b.com"}).DisplayName())
}
