package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromYAMLWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "parking.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  port: "9000"
storage:
  driver: postgres
database:
  dsn: postgres://parking@localhost/parking
redis:
  addr: localhost:6379
  ttl: 2h
auth:
  jwtSecret: from-file
capacity:
  reservationShare: 0.7
  sweepInterval: 5m
feed:
  pingInterval: 15s
catalog:
  localFallback: true
  facilities:
    - facilityId: 1
      vehicleType: car
      pricePer30Min: "100"
      totalSlots: 20
`), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("PARKING_HTTP_PORT", ":9100")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9100", cfg.HTTPAddress())
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
	assert.Equal(t, "postgres://parking@localhost/parking", cfg.Database.DSN)
	assert.Equal(t, 2*time.Hour, cfg.ActiveSessionTTL())
	assert.InDelta(t, 0.7, cfg.Capacity.ReservationShare, 1e-9)
	assert.Equal(t, 5*time.Minute, cfg.Capacity.SweepInterval)
	assert.Equal(t, 15*time.Second, cfg.Feed.PingInterval)
	assert.Equal(t, 10*time.Second, cfg.Feed.WriteTimeout)
	assert.Equal(t, "parking.events", cfg.AMQP.Exchange)
	require.Len(t, cfg.Catalog.Facilities, 1)
	assert.Equal(t, 20, cfg.Catalog.Facilities[0].TotalSlots)
	assert.Equal(t, 3*time.Second, cfg.Catalog.Timeout)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Storage:  Storage{Driver: "Memory"},
			Auth:     Auth{JWTSecret: "s"},
			Catalog:  Catalog{LocalFallback: true},
			Capacity: Capacity{ReservationShare: 0.5},
		}
	}

	cfg := base()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DriverMemory, cfg.Storage.Driver)

	cfg = base()
	cfg.Storage.Driver = DriverPostgres
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Storage.Driver = "sqlite"
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Auth.JWTSecret = ""
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Capacity.ReservationShare = 1.5
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Capacity.SweepInterval = -time.Second
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Catalog.LocalFallback = false
	assert.Error(t, cfg.Validate())
}

func TestHTTPAddressDefault(t *testing.T) {
	assert.Equal(t, ":8085", (&Config{}).HTTPAddress())
	assert.Equal(t, ":81", (&Config{HTTP: HTTP{Port: "81"}}).HTTPAddress())
}
