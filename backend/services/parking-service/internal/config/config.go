package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	libconfig "parkline/backend/libs/config"
)

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config defines parking service configuration.
type Config struct {
	HTTP     HTTP     `yaml:"http"`
	Storage  Storage  `yaml:"storage"`
	Database Database `yaml:"database"`
	Redis    Redis    `yaml:"redis"`
	AMQP     AMQP     `yaml:"amqp"`
	Auth     Auth     `yaml:"auth"`
	Tokens   Tokens   `yaml:"tokens"`
	Catalog  Catalog  `yaml:"catalog"`
	Capacity Capacity `yaml:"capacity"`
	Metrics  Metrics  `yaml:"metrics"`
	Feed     Feed     `yaml:"feed"`
}

type HTTP struct {
	Port            string        `yaml:"port" env:"PARKING_HTTP_PORT"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

type Storage struct {
	Driver string `yaml:"driver" env:"PARKING_STORAGE_DRIVER"`
}

type Database struct {
	DSN          string        `yaml:"dsn" env:"PARKING_POSTGRES_DSN"`
	MaxOpenConns int           `yaml:"maxOpenConns"`
	MaxIdleConns int           `yaml:"maxIdleConns"`
	ConnLifetime time.Duration `yaml:"connLifetime"`
}

// Redis is optional; an empty address disables the active-session cache.
type Redis struct {
	Addr     string        `yaml:"addr" env:"PARKING_REDIS_ADDR"`
	Password string        `yaml:"password" env:"PARKING_REDIS_PASSWORD"`
	DB       int           `yaml:"db" env:"PARKING_REDIS_DB"`
	TTL      time.Duration `yaml:"ttl" env:"PARKING_REDIS_TTL"`
}

// AMQP is optional; an empty URL disables event publishing.
type AMQP struct {
	URL      string `yaml:"url" env:"PARKING_AMQP_URL"`
	Exchange string `yaml:"exchange"`
	Queue    string `yaml:"queue"`
}

type Auth struct {
	JWTSecret string `yaml:"jwtSecret" env:"JWT_SECRET"`
}

type Tokens struct {
	Salt string `yaml:"salt" env:"PARKING_TOKEN_SALT"`
}

// Catalog points at the facility catalog service. With LocalFallback the
// facility_pricing table answers when the catalog is unreachable.
type Catalog struct {
	URL           string         `yaml:"url" env:"PARKING_CATALOG_URL"`
	Timeout       time.Duration  `yaml:"timeout"`
	LocalFallback bool           `yaml:"localFallback"`
	Facilities    []FacilitySeed `yaml:"facilities" env:"-"`
}

// FacilitySeed is a pricing row written to the local catalog at startup.
type FacilitySeed struct {
	FacilityID    int64  `yaml:"facilityId"`
	VehicleType   string `yaml:"vehicleType"`
	PricePer30Min string `yaml:"pricePer30Min"`
	PricePerDay   string `yaml:"pricePerDay"`
	BookingFee    string `yaml:"bookingFee"`
	TotalSlots    int    `yaml:"totalSlots"`
}

type Capacity struct {
	ReservationShare float64 `yaml:"reservationShare"`
	// SweepInterval is how often ended bulk chunks hand their spots back. Zero disables it.
	SweepInterval time.Duration `yaml:"sweepInterval"`
}

type Metrics struct {
	Enabled bool `yaml:"enabled" env:"PARKING_METRICS_ENABLED"`
}

type Feed struct {
	PingInterval time.Duration `yaml:"pingInterval"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
}

// Load reads configuration via shared helper.
func Load() (*Config, error) {
	cfg := &Config{
		HTTP:     HTTP{Port: "8085"},
		Storage:  Storage{Driver: DriverPostgres},
		Redis:    Redis{TTL: 24 * time.Hour},
		AMQP:     AMQP{Exchange: "parking.events", Queue: "parking.events.audit"},
		Catalog:  Catalog{Timeout: 3 * time.Second, LocalFallback: true},
		Capacity: Capacity{ReservationShare: 0.5, SweepInterval: time.Minute},
		Metrics:  Metrics{Enabled: true},
		Feed:     Feed{PingInterval: 30 * time.Second, WriteTimeout: 10 * time.Second},
	}

	if err := libconfig.LoadConfig(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required settings.
func (c *Config) Validate() error {
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	switch c.Storage.Driver {
	case DriverPostgres:
		if strings.TrimSpace(c.Database.DSN) == "" {
			return errors.New("config: database dsn required")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("config: unknown storage driver %q", c.Storage.Driver)
	}
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return errors.New("config: jwt secret required")
	}
	if c.Capacity.ReservationShare < 0 || c.Capacity.ReservationShare > 1 {
		return errors.New("config: capacity reservation share must be within [0, 1]")
	}
	if c.Capacity.SweepInterval < 0 {
		return errors.New("config: capacity sweep interval must not be negative")
	}
	if strings.TrimSpace(c.Catalog.URL) == "" && !c.Catalog.LocalFallback {
		return errors.New("config: catalog url or local fallback required")
	}
	return nil
}

// HTTPAddress returns :port style.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		port = "8085"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}

// ActiveSessionTTL returns the cache ttl, one day by default.
func (c *Config) ActiveSessionTTL() time.Duration {
	if c.Redis.TTL <= 0 {
		return 24 * time.Hour
	}
	return c.Redis.TTL
}
