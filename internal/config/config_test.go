package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"DATABASE_URL", "PG_DSN", "PGHOST", "PGPORT", "PGUSER", "PGPASSWORD", "PGDATABASE", "PGSSLMODE",
	"STORE", "CLIENT_ID", "CLIENT_SECRET", "AUTH_URL", "FEED_KIND", "STM_API_URL",
	"GTFSRT_VEHICLE_POSITIONS_URL", "OSRM_URL", "POLL_INTERVAL_SEC", "FEED_TIMEOUT_SEC",
	"ROUTING_TIMEOUT_SEC", "SESSIONS_REFRESH_INTERVAL_SEC", "DB_CHECK_INTERVAL_SEC",
	"CATALOG_CACHE_TTL_SEC", "SYNC_CATALOG", "HTTP_ADDR", "CORS_ORIGINS", "METRICS_ADDR",
	"NATS_URL", "NATS_SUBJECT_PREFIX", "LOG_NATS_SUBJECTS", "TZ",
}

// clearEnv blanks every variable Load reads; t.Setenv restores them.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Equal(t, FeedSTM, cfg.FeedKind)
	assert.Equal(t, "https://mvdapi-auth.montevideo.gub.uy/token", cfg.AuthURL)
	assert.Equal(t, "https://api.montevideo.gub.uy/api/transportepublico", cfg.STMAPIURL)
	assert.Equal(t, "http://localhost:5555", cfg.OSRMURL)
	assert.Equal(t, 15*time.Second, cfg.PollInterval)
	assert.Equal(t, 10*time.Second, cfg.FeedTimeout)
	assert.Equal(t, 10*time.Second, cfg.RoutingTimeout)
	assert.Equal(t, time.Minute, cfg.SessionsRefreshInterval)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Empty(t, cfg.NATSURL)
	assert.Equal(t, "tracking", cfg.NATSSubjectPrefix)
	assert.False(t, cfg.SyncCatalog)
	assert.Equal(t, time.Local, cfg.Location)
}

func TestLoadBuildsDSNFromParts(t *testing.T) {
	clearEnv(t)
	t.Setenv("PGDATABASE", "tracker")
	t.Setenv("PGUSER", "bus")
	t.Setenv("PGPASSWORD", "p@ss:word")
	t.Setenv("PGHOST", "db")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StorePostgres, cfg.Store)
	assert.Equal(t, "postgres://bus:p%40ss%3Aword@db:5432/tracker?sslmode=disable", cfg.DatabaseURL)
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://x@y/z")
	t.Setenv("STORE", "memory")
	t.Setenv("FEED_KIND", "GTFSRT")
	t.Setenv("POLL_INTERVAL_SEC", "5")
	t.Setenv("CORS_ORIGINS", "http://a.example, http://b.example ,")
	t.Setenv("SYNC_CATALOG", "yes")
	t.Setenv("LOG_NATS_SUBJECTS", "on")
	t.Setenv("TZ", "America/Montevideo")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, FeedGTFSRT, cfg.FeedKind)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.CORSOrigins)
	assert.True(t, cfg.SyncCatalog)
	assert.True(t, cfg.LogNATSSubjects)
	assert.Equal(t, "America/Montevideo", cfg.Location.String())
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"POLL_INTERVAL_SEC":   "soon",
		"FEED_TIMEOUT_SEC":    "0",
		"ROUTING_TIMEOUT_SEC": "-3",
		"FEED_KIND":           "xml",
		"STORE":               "redis",
		"TZ":                  "Mars/Olympus",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, val)
			_, err := Load()
			assert.Error(t, err)
		})
	}

	t.Run("postgres without dsn", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("STORE", "postgres")
		_, err := Load()
		assert.ErrorContains(t, err, "requires DATABASE_URL")
	})
}
