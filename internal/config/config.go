package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	FeedSTM    = "stm"
	FeedGTFSRT = "gtfsrt"

	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

type Config struct {
	Store       string
	DatabaseURL string

	ClientID     string
	ClientSecret string
	AuthURL      string

	FeedKind       string
	STMAPIURL      string
	GTFSRTURL      string
	OSRMURL        string
	FeedTimeout    time.Duration
	RoutingTimeout time.Duration

	PollInterval            time.Duration
	SessionsRefreshInterval time.Duration
	DBCheckInterval         time.Duration
	CatalogCacheTTL         time.Duration
	SyncCatalog             bool

	HTTPAddr    string
	CORSOrigins []string
	MetricsAddr string

	NATSURL           string
	NATSSubjectPrefix string
	LogNATSSubjects   bool

	Location *time.Location
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{}

	// Database URL: prefer DATABASE_URL / PG_DSN, else build from PG* vars
	dsn := firstNonEmpty(
		os.Getenv("DATABASE_URL"),
		os.Getenv("PG_DSN"),
	)
	if dsn == "" && os.Getenv("PGDATABASE") != "" {
		host := getenvDefault("PGHOST", "127.0.0.1")
		port := getenvDefault("PGPORT", "5432")
		user := getenvDefault("PGUSER", "postgres")
		pass := os.Getenv("PGPASSWORD")
		db := os.Getenv("PGDATABASE")
		sslmode := getenvDefault("PGSSLMODE", "disable")
		if pass != "" {
			dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode)
		} else {
			dsn = fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode)
		}
	}
	cfg.DatabaseURL = dsn

	// Storage backend: postgres when a DSN is resolvable, memory otherwise
	switch v := strings.ToLower(strings.TrimSpace(os.Getenv("STORE"))); v {
	case "":
		if dsn != "" {
			cfg.Store = StorePostgres
		} else {
			cfg.Store = StoreMemory
		}
	case StoreMemory, StorePostgres:
		cfg.Store = v
	default:
		return nil, fmt.Errorf("invalid STORE: %q", v)
	}
	if cfg.Store == StorePostgres && dsn == "" {
		return nil, errors.New("STORE=postgres requires DATABASE_URL or PGDATABASE")
	}

	cfg.ClientID = strings.TrimSpace(os.Getenv("CLIENT_ID"))
	cfg.ClientSecret = strings.TrimSpace(os.Getenv("CLIENT_SECRET"))
	cfg.AuthURL = getenvDefault("AUTH_URL", "https://mvdapi-auth.montevideo.gub.uy/token")
	cfg.STMAPIURL = getenvDefault("STM_API_URL", "https://api.montevideo.gub.uy/api/transportepublico")
	cfg.GTFSRTURL = os.Getenv("GTFSRT_VEHICLE_POSITIONS_URL")
	cfg.OSRMURL = getenvDefault("OSRM_URL", "http://localhost:5555")

	switch v := strings.ToLower(getenvDefault("FEED_KIND", FeedSTM)); v {
	case FeedSTM, FeedGTFSRT:
		cfg.FeedKind = v
	default:
		return nil, fmt.Errorf("invalid FEED_KIND: %q", v)
	}

	var err error
	if cfg.PollInterval, err = seconds("POLL_INTERVAL_SEC", 15); err != nil {
		return nil, err
	}
	if cfg.FeedTimeout, err = seconds("FEED_TIMEOUT_SEC", 10); err != nil {
		return nil, err
	}
	if cfg.RoutingTimeout, err = seconds("ROUTING_TIMEOUT_SEC", 10); err != nil {
		return nil, err
	}
	if cfg.SessionsRefreshInterval, err = seconds("SESSIONS_REFRESH_INTERVAL_SEC", 60); err != nil {
		return nil, err
	}
	if cfg.DBCheckInterval, err = seconds("DB_CHECK_INTERVAL_SEC", 300); err != nil {
		return nil, err
	}
	if cfg.CatalogCacheTTL, err = seconds("CATALOG_CACHE_TTL_SEC", 600); err != nil {
		return nil, err
	}
	cfg.SyncCatalog = truthy(os.Getenv("SYNC_CATALOG"))

	cfg.HTTPAddr = getenvDefault("HTTP_ADDR", ":8080")
	cfg.CORSOrigins = splitList(getenvDefault("CORS_ORIGINS", "*"))

	// Metrics listen address (e.g., ":9102"). Empty disables the metrics server.
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")

	// Empty NATS_URL disables snapshot publishing.
	cfg.NATSURL = os.Getenv("NATS_URL")
	cfg.NATSSubjectPrefix = getenvDefault("NATS_SUBJECT_PREFIX", "tracking")
	cfg.LogNATSSubjects = truthy(os.Getenv("LOG_NATS_SUBJECTS"))

	// Time zone for feed timestamps without an offset
	tzName := getenvDefault("TZ", "")
	if tzName == "" {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(tzName)
		if err != nil {
			return nil, fmt.Errorf("invalid TZ: %v", err)
		}
		cfg.Location = loc
	}

	return cfg, nil
}

func seconds(key string, def int) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return time.Duration(def) * time.Second, nil
	}
	sec, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || sec <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return time.Duration(sec) * time.Second, nil
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	}
	return false
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
