package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"bus-tracker/internal/api"
	"bus-tracker/internal/auth"
	"bus-tracker/internal/config"
	"bus-tracker/internal/db"
	"bus-tracker/internal/eta"
	"bus-tracker/internal/feed"
	"bus-tracker/internal/geo"
	"bus-tracker/internal/metrics"
	"bus-tracker/internal/osrm"
	"bus-tracker/internal/publisher"
	"bus-tracker/internal/route"
	"bus-tracker/internal/store"
	"bus-tracker/internal/tracker"
)

// backend is what both storage implementations provide.
type backend interface {
	tracker.Store
	route.Source
	feed.CatalogWriter
	api.StopDirectory
}

const catalogCacheSize = 1024

func main() {
	// Load configuration from .env and environment
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var (
		st     backend
		sqlDB  *sql.DB
		health api.HealthCheck
	)
	switch cfg.Store {
	case config.StorePostgres:
		sqlDB, err = db.Open(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db open error: %v", err)
		}
		defer sqlDB.Close()
		if err := db.Ping(ctx, sqlDB); err != nil {
			log.Fatalf("db ping error: %v", err)
		}
		if err := db.Migrate(ctx, sqlDB); err != nil {
			log.Fatalf("db migrate error: %v", err)
		}
		log.Printf("using postgres at %s", db.Redacted(cfg.DatabaseURL))
		st = db.NewStore(sqlDB)
		health = func(ctx context.Context) error { return db.Ping(ctx, sqlDB) }
	default:
		log.Printf("using in-memory store; sessions and trackings are lost on restart")
		st = store.NewMemory()
	}

	// Metrics setup
	var mcol *metrics.Collector
	var metricsSrvCancel context.CancelFunc
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector(cfg.PollInterval, cfg.SessionsRefreshInterval)
		mctx, mcancel := context.WithCancel(ctx)
		metricsSrvCancel = mcancel
		srv := mcol.Serve(cfg.MetricsAddr)
		go func() {
			<-mctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	// Snapshot fan-out is optional
	var pub tracker.Publisher
	if cfg.NATSURL != "" {
		np, err := publisher.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubjectPrefix, cfg.LogNATSSubjects, wrapPublisherMetrics(mcol))
		if err != nil {
			log.Fatalf("nats error: %v", err)
		}
		defer np.Close()
		pub = np
	}

	// Live feed
	tokens := auth.NewTokenManager(cfg.AuthURL, cfg.ClientID, cfg.ClientSecret,
		auth.WithHTTPClient(&http.Client{Timeout: cfg.FeedTimeout}))
	stm := feed.NewSTMClient(cfg.STMAPIURL, tokens, cfg.FeedTimeout, cfg.Location)
	var src feed.Source = stm
	if cfg.FeedKind == config.FeedGTFSRT {
		src = feed.NewGTFSRTClient(cfg.GTFSRTURL, cfg.FeedTimeout)
	}
	if err := src.Ready(); err != nil {
		log.Printf("feed %s not ready: %v (tracking requests will be refused)", cfg.FeedKind, err)
	}

	if cfg.SyncCatalog {
		if err := stm.Ready(); err != nil {
			log.Printf("catalog sync skipped: %v", err)
		} else if _, err := feed.SyncCatalog(ctx, stm, st); err != nil {
			log.Printf("catalog sync failed: %v", err)
		}
	}

	// Routing and stop views
	catalog := route.NewCatalog(st, catalogCacheSize, cfg.CatalogCacheTTL)
	var router eta.Router = osrm.NewClient(cfg.OSRMURL, cfg.RoutingTimeout)
	if mcol != nil {
		router = &meteredRouter{next: router, c: mcol}
	}
	view := eta.NewStopView(catalog, src, eta.NewEstimator(router, nil))

	mgr := tracker.NewManager(st, src, pub, cfg.PollInterval, cfg.SessionsRefreshInterval, mcol)
	mgr.Start(ctx)

	// Periodic DB health watcher
	var done chan struct{}
	if sqlDB != nil {
		done = make(chan struct{})
		go watchDB(ctx, sqlDB, cfg.DBCheckInterval, mcol, done)
	}

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewServer(st, mgr, view, health, cfg.CORSOrigins).Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Printf("api listening on %s", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("api server error: %v", err)
			cancel()
		}
	}()

	// Block until context cancelled
	<-ctx.Done()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = httpSrv.Shutdown(shutdownCtx)
	shutdownCancel()
	mgr.Stop()
	if done != nil {
		<-done
	}
	if metricsSrvCancel != nil {
		metricsSrvCancel()
	}
	log.Println("shutdown complete")
}

func watchDB(ctx context.Context, sqlDB *sql.DB, every time.Duration, mcol *metrics.Collector, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := db.Ping(ctx, sqlDB); err != nil {
			log.Printf("db ping failed: %v", err)
			if mcol != nil {
				mcol.DBPingFailures.Inc()
			}
		}
	}
}

// meteredRouter records routing latency and failures.
type meteredRouter struct {
	next eta.Router
	c    *metrics.Collector
}

func (m *meteredRouter) Route(ctx context.Context, points []geo.Point) (osrm.Route, error) {
	start := time.Now()
	r, err := m.next.Route(ctx, points)
	m.c.RoutingDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		m.c.RoutingErrors.Inc()
	}
	return r, err
}

// wrapPublisherMetrics adapts our Collector to the PublisherMetrics interface.
func wrapPublisherMetrics(c *metrics.Collector) publisher.PublisherMetrics {
	if c == nil {
		return nil
	}
	return &pubMetrics{c: c}
}

type pubMetrics struct{ c *metrics.Collector }

func (p *pubMetrics) NATSPublishedInc()              { p.c.NATSPublished.Inc() }
func (p *pubMetrics) NATSPublishErrInc()             { p.c.NATSPublishErrs.Inc() }
func (p *pubMetrics) PublishObserve(d time.Duration) { p.c.PublishDuration.Observe(d.Seconds()) }
func (p *pubMetrics) NATSSetConnected(b bool) {
	if b {
		p.c.NATSConnected.Set(1)
	} else {
		p.c.NATSConnected.Set(0)
	}
}
