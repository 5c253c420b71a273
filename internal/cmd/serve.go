package cmd

import (
	"context"
	"crypto/sha256"
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/template/django/v3"
	portal "github.com/goliatone/go-portal"
	"github.com/goliatone/go-portal/activitymap"
	"github.com/goliatone/go-portal/dashboard"
	"github.com/goliatone/go-portal/metrics"
	"github.com/goliatone/go-portal/middleware/csrf"
	"github.com/goliatone/go-router"
	mflash "github.com/goliatone/go-router/middleware/flash"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var skipMigrations bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dashboard HTTP server",
	Long: `Run the dashboard HTTP server together with the Prometheus metrics
endpoint and the session hub sweeper. Pending migrations are applied
first unless --skip-migrations is set.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "do not apply pending migrations on start")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	rt, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	lgr := rt.logger.GetLogger("serve")

	if !skipMigrations {
		if err := rt.migrate(ctx); err != nil {
			return err
		}
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	sink := portal.ActivitySinks{m, activitymap.NewLogSink(rt.logger.GetLogger("audit"))}

	svc, err := rt.newIdentity(ctx, sink)
	if err != nil {
		return err
	}

	hub := portal.NewHub(backendFactory(svc.BackendFactory(), rt.cfg.Telemetry.Tracing),
		portal.WithHubLogger(rt.logger.GetLogger("hub")),
		portal.WithHubObserver(m),
		portal.WithIdleTTL(rt.cfg.Auth.IdleTTL),
		portal.WithMaxProviders(rt.cfg.Auth.MaxProviders),
		portal.WithHubProviderOptions(
			portal.WithProviderLogger(rt.logger.GetLogger("provider")),
			portal.WithProviderActivitySink(sink),
			portal.WithBootstrapTimeout(rt.cfg.Auth.BootstrapTimeout),
			portal.WithSiteURL(rt.cfg.Server.SiteURL),
		),
	)

	guard := portal.NewRouteGuard(hub, portal.HTTPConfig{
		CookieSecure: rt.cfg.Auth.CookieSecure,
		LoadingWait:  rt.cfg.Auth.LoadingWait,
		AdminWait:    rt.cfg.Auth.AdminWait,
	})
	guard.Logger = rt.logger.GetLogger("guard")

	engine := django.NewFileSystem(http.FS(portal.GetViewsFS()), ".html")
	engine.AddFuncMap(portal.TemplateHelpers())
	engine.Reload(rt.cfg.Log.Debug)

	srv := router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		return router.DefaultFiberOptions(fiber.New(fiber.Config{
			UnescapePath:      true,
			StrictRouting:     false,
			PassLocalsToViews: true,
			Views:             engine,
		}))
	})

	r := srv.Router()
	r.WithLogger(rt.logger.GetLogger("router"))

	key := sha256.Sum256([]byte(rt.cfg.Auth.SigningKey))
	r.Use(m.Middleware())
	r.Use(mflash.New(mflash.ConfigDefault))
	r.Use(guard.SessionMiddleware())
	r.Use(csrf.New(csrf.Config{
		SecureKey: key[:],
	}))

	portal.RegisterAuthRoutes(r,
		portal.WithAuthGuard(guard),
		portal.WithAccountRecovery(svc),
		portal.WithAuthControllerLogger(rt.logger.GetLogger("auth")),
		portal.WithAuthControllerDebug(rt.cfg.Log.Debug),
	)

	portal.RegisterDashboardRoutes(r,
		portal.WithDashboardGuard(guard),
		portal.WithDashboardStore(dashboard.NewStore(rt.db)),
		portal.WithDashboardLogger(rt.logger.GetLogger("dashboard")),
	)

	metricsSrv := &http.Server{
		Addr:              rt.cfg.Server.MetricsAddr,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		lgr.Info("http server listening", "addr", rt.cfg.Server.Addr)
		return srv.Serve(rt.cfg.Server.Addr)
	})

	if rt.cfg.Server.MetricsAddr != "" {
		g.Go(func() error {
			lgr.Info("metrics server listening", "addr", rt.cfg.Server.MetricsAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		return hub.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		lgr.Info("shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := errors.Join(
			srv.Shutdown(sctx),
			metricsSrv.Shutdown(sctx),
			hub.Close(),
		)
		return err
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// backendFactory wraps every device backend in a tracing decorator when
// tracing is enabled.
func backendFactory(next portal.BackendFactory, tracing bool) portal.BackendFactory {
	if !tracing {
		return next
	}

	tracer := otel.Tracer("github.com/goliatone/go-portal/cmd")
	return func(ctx context.Context, deviceID, token string) (portal.Backend, error) {
		backend, err := next(ctx, deviceID, token)
		if err != nil {
			return nil, err
		}
		return portal.NewTracedBackend(backend, portal.WithTracer(tracer)), nil
	}
}
