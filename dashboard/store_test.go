package dashboard_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	portal "github.com/goliatone/go-portal"
	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/goliatone/go-portal/dashboard"
	"github.com/goliatone/go-portal/identity"
	"github.com/goliatone/go-portal/storage"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

var fixedNow = time.Date(2026, time.May, 12, 10, 0, 0, 0, time.UTC)

func setupTestDB(t *testing.T) *persistence.Client {
	t.Helper()
	ctx := context.Background()

	identity.RegisterModels()
	dashboard.RegisterModels()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	client, err := storage.Open(ctx, storage.Config{
		Driver: storage.DriverSQLite,
		DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
	},
		storage.WithMigrations(portal.GetMigrationsFS()),
		storage.WithFixtures(portal.GetFixturesFS()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.DB().Close() })

	require.NoError(t, client.Migrate(ctx))

	return client
}

func createCustomer(t *testing.T, db *bun.DB, email, fullName string) uuid.UUID {
	t.Helper()
	ctx := context.Background()

	id := uuid.New()
	_, err := db.ExecContext(ctx,
		"INSERT INTO users (id, email, password_hash) VALUES (?, ?, ?)",
		id.String(), email, "hash",
	)
	require.NoError(t, err)

	created := fixedNow.Add(-48 * time.Hour)
	_, err = db.NewInsert().Model(&dashboard.Profile{
		ID:        id,
		Email:     email,
		FullName:  fullName,
		CreatedAt: &created,
		UpdatedAt: &created,
	}).Exec(ctx)
	require.NoError(t, err)

	return id
}

func newTestStore(db *bun.DB) *dashboard.Store {
	return dashboard.NewStore(db, dashboard.WithStoreClock(func() time.Time { return fixedNow }))
}

func TestStoreOverviewAfterSeed(t *testing.T) {
	ctx := context.Background()
	client := setupTestDB(t)

	require.NoError(t, client.Seed(ctx))
	require.NoError(t, client.Seed(ctx))

	var userID uuid.UUID
	err := client.DB().NewSelect().
		Model((*dashboard.Profile)(nil)).
		Column("id").
		Where("email = ?", "demo@example.com").
		Scan(ctx, &userID)
	require.NoError(t, err)

	overview, err := newTestStore(client.DB()).Overview(ctx, userID)
	require.NoError(t, err)

	require.NotNil(t, overview.Subscription)
	assert.Equal(t, "Business", overview.Subscription.PlanName)
	assert.Equal(t, int64(49900), overview.Subscription.PriceCents)

	assert.Len(t, overview.Services, 6)
	assert.Equal(t, 4, overview.ActiveServices)
	assert.Len(t, overview.Tickets, 4)

	require.Len(t, overview.Invoices, 4)
	assert.Equal(t, dashboard.InvoicePending, overview.Invoices[0].Status)
	assert.Nil(t, overview.Invoices[0].PaidAt)
	for i := 1; i < len(overview.Invoices); i++ {
		assert.True(t, overview.Invoices[i-1].DueDate.After(overview.Invoices[i].DueDate))
	}

	admins, err := client.DB().NewSelect().
		Model((*dashboard.Profile)(nil)).
		Where("is_admin = ?", true).
		Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, admins)
}

func TestStoreOverviewWithoutData(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t).DB()
	userID := createCustomer(t, db, "empty@example.com", "")

	overview, err := newTestStore(db).Overview(ctx, userID)
	require.NoError(t, err)

	assert.Nil(t, overview.Subscription)
	assert.Empty(t, overview.Services)
	assert.Empty(t, overview.Invoices)
	assert.Empty(t, overview.Tickets)
	assert.Zero(t, overview.ActiveServices)
}

func TestStoreCreateTicket(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t).DB()
	userID := createCustomer(t, db, "joana@example.com", "Joana Silva")
	store := newTestStore(db)

	t.Run("requires title and description", func(t *testing.T) {
		_, err := store.CreateTicket(ctx, userID, dashboard.TicketInput{Title: "   ", Description: "x"})
		require.Error(t, err)
		assert.True(t, goerrors.IsValidation(err))
	})

	t.Run("rejects unknown priority", func(t *testing.T) {
		_, err := store.CreateTicket(ctx, userID, dashboard.TicketInput{Title: "a", Description: "b", Priority: "urgent"})
		require.Error(t, err)
		assert.True(t, goerrors.IsValidation(err))
	})

	t.Run("defaults to medium priority", func(t *testing.T) {
		ticket, err := store.CreateTicket(ctx, userID, dashboard.TicketInput{
			Title:       "  VPN indisponível ",
			Description: "Sem acesso desde as 9h",
		})
		require.NoError(t, err)

		assert.NotEqual(t, uuid.Nil, ticket.ID)
		assert.Equal(t, "VPN indisponível", ticket.Title)
		assert.Equal(t, dashboard.TicketOpen, ticket.Status)
		assert.Equal(t, dashboard.PriorityMedium, ticket.Priority)

		list, err := store.Tickets(ctx, userID)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, ticket.ID, list[0].ID)
	})
}

func TestStoreUpdateTicketStatus(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t).DB()
	userID := createCustomer(t, db, "joana@example.com", "Joana Silva")
	store := newTestStore(db)

	ticket, err := store.CreateTicket(ctx, userID, dashboard.TicketInput{Title: "Backup", Description: "Falhou", Priority: dashboard.PriorityHigh})
	require.NoError(t, err)

	_, err = store.UpdateTicketStatus(ctx, ticket.ID, "reopened")
	require.Error(t, err)
	assert.True(t, goerrors.IsValidation(err))

	_, err = store.UpdateTicketStatus(ctx, uuid.New(), dashboard.TicketResolved)
	require.Error(t, err)
	assert.True(t, goerrors.IsNotFound(err))

	updated, err := store.UpdateTicketStatus(ctx, ticket.ID, dashboard.TicketResolved)
	require.NoError(t, err)
	assert.Equal(t, dashboard.TicketResolved, updated.Status)
	assert.Equal(t, dashboard.PriorityHigh, updated.Priority)
}

func TestStoreAllTicketsLoadsOwners(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t).DB()
	joana := createCustomer(t, db, "joana@example.com", "Joana Silva")
	rui := createCustomer(t, db, "rui@example.com", "Rui Costa")
	store := newTestStore(db)

	_, err := store.CreateTicket(ctx, joana, dashboard.TicketInput{Title: "Chatbot", Description: "Respostas erradas"})
	require.NoError(t, err)
	_, err = store.CreateTicket(ctx, rui, dashboard.TicketInput{Title: "Agendamento", Description: "Jobs atrasados"})
	require.NoError(t, err)

	all, err := store.AllTickets(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)

	owners := map[string]string{}
	for _, ticket := range all {
		require.NotNil(t, ticket.Owner)
		owners[ticket.Title] = ticket.Owner.FullName
	}
	assert.Equal(t, "Joana Silva", owners["Chatbot"])
	assert.Equal(t, "Rui Costa", owners["Agendamento"])

	filtered := dashboard.FilterTickets(all, dashboard.TicketFilter{Search: "rui@example.com"})
	require.Len(t, filtered, 1)
	assert.Equal(t, "Agendamento", filtered[0].Title)
}

func TestStoreProfile(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t).DB()
	userID := createCustomer(t, db, "joana@example.com", "")
	store := newTestStore(db)

	profile, err := store.Profile(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "joana@example.com", profile.DisplayName())

	_, err = store.UpdateProfile(ctx, userID, dashboard.ProfileInput{FullName: "Jo"})
	require.Error(t, err)
	assert.True(t, goerrors.IsValidation(err))

	updated, err := store.UpdateProfile(ctx, userID, dashboard.ProfileInput{
		FullName: " Joana Silva ",
		Company:  "Acme",
		Phone:    "+351 910 000 000",
	})
	require.NoError(t, err)
	assert.Equal(t, "Joana Silva", updated.FullName)
	assert.Equal(t, "Acme", updated.Company)

	_, err = store.Profile(ctx, uuid.New())
	require.Error(t, err)
	assert.True(t, goerrors.IsNotFound(err))

	_, err = store.UpdateProfile(ctx, uuid.New(), dashboard.ProfileInput{FullName: "Someone"})
	require.Error(t, err)
	assert.True(t, goerrors.IsNotFound(err))
}
