package cmd

import (
	"context"
	"errors"

	"github.com/goliatone/go-logger/glog"
	persistence "github.com/goliatone/go-persistence-bun"
	portal "github.com/goliatone/go-portal"
	"github.com/goliatone/go-portal/config"
	"github.com/goliatone/go-portal/dashboard"
	"github.com/goliatone/go-portal/identity"
	"github.com/goliatone/go-portal/redisbus"
	"github.com/goliatone/go-portal/storage"
	"github.com/uptrace/bun"
)

// app bundles what every command needs once configuration is loaded
type app struct {
	cfg         *config.Config
	logger      *glog.BaseLogger
	persistence *persistence.Client
	db          *bun.DB
	closer      []func() error
}

func bootstrap(ctx context.Context) (*app, error) {
	cfg, lgr, err := loadConfig(ctx)
	if err != nil {
		return nil, err
	}

	rt := &app{cfg: cfg, logger: lgr}

	identity.RegisterModels()
	dashboard.RegisterModels()

	client, err := storage.Open(ctx, storage.Config{
		Driver:  cfg.Persistence.Driver,
		DSN:     cfg.Persistence.DSN,
		Debug:   cfg.Persistence.Debug,
		Tracing: cfg.Telemetry.Tracing,
		Name:    "portal",
	},
		storage.WithLogger(rt.logger.GetLogger("persistence")),
		storage.WithMigrations(portal.GetMigrationsFS()),
		storage.WithFixtures(portal.GetFixturesFS()),
	)
	if err != nil {
		return nil, err
	}
	rt.persistence = client
	rt.db = client.DB()
	rt.closer = append(rt.closer, rt.db.Close)

	return rt, nil
}

func (rt *app) migrate(ctx context.Context) error {
	if err := rt.persistence.Migrate(ctx); err != nil {
		return err
	}

	if report := rt.persistence.Report(); report != nil && !report.IsZero() {
		rt.logger.GetLogger("migrate").Info("migrations applied", "report", report.String())
	}
	return nil
}

// newIdentity builds the identity service. A configured Redis URL fans session
// events out across replicas, otherwise events stay in process.
func (rt *app) newIdentity(ctx context.Context, sink portal.ActivitySink) (*identity.Service, error) {
	auth := rt.cfg.Auth
	opts := []identity.Option{
		identity.WithLogger(rt.logger.GetLogger("identity")),
		identity.WithMailer(identity.LogMailer{Logger: rt.logger.GetLogger("mailer")}),
	}

	if sink != nil {
		opts = append(opts, identity.WithActivitySink(sink))
	}

	if rt.cfg.Redis.URL != "" {
		client, err := redisbus.Connect(ctx, rt.cfg.Redis.URL)
		if err != nil {
			return nil, err
		}
		rt.closer = append(rt.closer, client.Close)
		opts = append(opts, identity.WithBus(redisbus.New(client,
			redisbus.WithChannel(rt.cfg.Redis.Channel),
			redisbus.WithLogger(rt.logger.GetLogger("bus")),
		)))
	}

	return identity.NewService(rt.db, identity.Config{
		SigningKey:  []byte(auth.SigningKey),
		Issuer:      auth.Issuer,
		Audience:    auth.Audience,
		SessionTTL:  auth.TokenTTL,
		BcryptCost:  auth.BcryptCost,
		SiteURL:     rt.cfg.Server.SiteURL,
		AutoConfirm: auth.AutoConfirm,
	}, opts...)
}

// Close releases resources in reverse acquisition order
func (rt *app) Close() error {
	var errs []error
	for i := len(rt.closer) - 1; i >= 0; i-- {
		if err := rt.closer[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
