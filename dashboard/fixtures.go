package dashboard

import (
	"sync"

	"github.com/goliatone/go-portal/storage"
)

var registerOnce sync.Once

// RegisterModels exposes the dashboard models to fixtures by type name
func RegisterModels() {
	registerOnce.Do(func() {
		storage.RegisterModels(
			(*Profile)(nil),
			(*Subscription)(nil),
			(*Service)(nil),
			(*Invoice)(nil),
			(*SupportTicket)(nil),
		)
	})
}
