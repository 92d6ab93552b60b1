package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/md-rashed-zaman/salonbook/libs/config"
	"github.com/spf13/pflag"
)

type serviceConfig struct {
	ServiceName string
	HTTPPort    string
	GRPCPort    string
	DatabaseURL string
	DBMaxConns  int
	AutoMigrate bool

	SlotIncrementMinutes int
	AllowPastBlocks      bool

	RedisURL string
	CacheTTL time.Duration

	EventBroker  string
	KafkaBrokers string
	AMQPURL      string
	OutboxPoll   time.Duration

	RateLimitPerMinute int
	CORSOrigins        string
}

func loadConfig() (serviceConfig, error) {
	_ = config.LoadDotEnv()

	cfg := serviceConfig{
		ServiceName:     config.String("SERVICE_NAME", "booking-service"),
		DatabaseURL:     strings.TrimSpace(config.String("DATABASE_URL", "")),
		AutoMigrate:     config.Bool("AUTO_MIGRATE", true),
		AllowPastBlocks: config.Bool("ALLOW_PAST_BLOCKS", false),
		RedisURL:        strings.TrimSpace(config.String("REDIS_URL", "")),
		EventBroker:     strings.ToLower(strings.TrimSpace(config.String("EVENT_BROKER", "kafka"))),
		KafkaBrokers:    config.String("KAFKA_BROKERS", ""),
		AMQPURL:         strings.TrimSpace(config.String("AMQP_URL", "")),
		CORSOrigins:     config.String("CORS_ALLOWED_ORIGINS", ""),
	}

	var err error
	if cfg.HTTPPort, err = config.Port("PORT", "8083"); err != nil {
		return cfg, err
	}
	if cfg.GRPCPort, err = config.Port("GRPC_PORT", "9093"); err != nil {
		return cfg, err
	}
	if cfg.DBMaxConns, err = config.Int("DB_MAX_CONNS", 10); err != nil {
		return cfg, err
	}
	if cfg.SlotIncrementMinutes, err = config.Int("SLOT_INCREMENT_MINUTES", 60); err != nil {
		return cfg, err
	}
	if cfg.CacheTTL, err = config.Duration("AVAILABILITY_CACHE_TTL", 15*time.Second); err != nil {
		return cfg, err
	}
	if cfg.OutboxPoll, err = config.Duration("OUTBOX_POLL_INTERVAL", 2*time.Second); err != nil {
		return cfg, err
	}
	if cfg.RateLimitPerMinute, err = config.Int("RATE_LIMIT_PER_MINUTE", 120); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyFlags lets explicitly set CLI flags win over the environment.
func (c *serviceConfig) applyFlags(flags *pflag.FlagSet) {
	if flags.Changed("database-url") {
		c.DatabaseURL, _ = flags.GetString("database-url")
	}
	if flags.Changed("port") {
		c.HTTPPort, _ = flags.GetString("port")
	}
	if flags.Changed("grpc-port") {
		c.GRPCPort, _ = flags.GetString("grpc-port")
	}
	if flags.Changed("migrate") {
		c.AutoMigrate, _ = flags.GetBool("migrate")
	}
}

func (c serviceConfig) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.SlotIncrementMinutes > 24*60 {
		return fmt.Errorf("SLOT_INCREMENT_MINUTES must be at most 1440, got %d", c.SlotIncrementMinutes)
	}
	switch c.EventBroker {
	case "kafka", "amqp":
	default:
		return fmt.Errorf("EVENT_BROKER must be kafka or amqp, got %q", c.EventBroker)
	}
	return nil
}
