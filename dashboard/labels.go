package dashboard

// Badge variants understood by the views
const (
	VariantDefault     = "default"
	VariantSecondary   = "secondary"
	VariantSuccess     = "success"
	VariantWarning     = "warning"
	VariantDestructive = "destructive"
	VariantOutline     = "outline"
)

func SubscriptionStatusLabel(status string) string {
	switch status {
	case SubscriptionActive:
		return "Ativo"
	case SubscriptionCanceled:
		return "Cancelado"
	case SubscriptionPastDue:
		return "Pagamento Pendente"
	default:
		return status
	}
}

func SubscriptionStatusVariant(status string) string {
	switch status {
	case SubscriptionActive:
		return VariantSuccess
	case SubscriptionCanceled:
		return VariantDestructive
	case SubscriptionPastDue:
		return VariantWarning
	default:
		return VariantDefault
	}
}

func ServiceStatusLabel(status string) string {
	switch status {
	case ServiceActive:
		return "Ativo"
	case ServicePaused:
		return "Pausado"
	case ServiceInactive:
		return "Inativo"
	default:
		return status
	}
}

func InvoiceStatusLabel(status string) string {
	switch status {
	case InvoicePaid:
		return "Pago"
	case InvoicePending:
		return "Pendente"
	case InvoiceFailed:
		return "Falhou"
	default:
		return status
	}
}

func InvoiceStatusVariant(status string) string {
	switch status {
	case InvoicePaid:
		return VariantSuccess
	case InvoicePending:
		return VariantWarning
	case InvoiceFailed:
		return VariantDestructive
	default:
		return VariantDefault
	}
}

func TicketStatusLabel(status string) string {
	switch status {
	case TicketOpen:
		return "Aberto"
	case TicketInProgress:
		return "Em Progresso"
	case TicketResolved:
		return "Resolvido"
	case TicketClosed:
		return "Encerrado"
	default:
		return status
	}
}

func TicketStatusVariant(status string) string {
	switch status {
	case TicketInProgress:
		return VariantSecondary
	case TicketResolved:
		return VariantSuccess
	case TicketClosed:
		return VariantOutline
	default:
		return VariantDefault
	}
}

func PriorityLabel(priority string) string {
	switch priority {
	case PriorityLow:
		return "Baixa"
	case PriorityMedium:
		return "Média"
	case PriorityHigh:
		return "Alta"
	default:
		return priority
	}
}

func PriorityVariant(priority string) string {
	switch priority {
	case PriorityLow:
		return VariantSecondary
	case PriorityHigh:
		return VariantDestructive
	default:
		return VariantDefault
	}
}
