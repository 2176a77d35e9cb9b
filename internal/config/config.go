package config

import "time"

type Config struct {
	Service     *ServiceConfig
	Redis       *RedisConfig
	Postgres    *PostgresConfig
	Presence    *PresenceConfig
	WebPush     *WebPushConfig
	Tracer      *TracerConfig
	Logger      *LoggerConfig
	SecretToken string
}

type ServiceConfig struct {
	Name string
	Env  string
	Add  string
}

type RedisConfig struct {
	URL          string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	MinIdleConns int
	PingTimeout  time.Duration
}

type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

// PresenceConfig holds the timings of the live session core.
type PresenceConfig struct {
	TTL           time.Duration // lifetime of a presence entry without activity
	WaitTimeout   time.Duration // per-signal wait before a session re-checks
	OpTimeout     time.Duration // upper bound on a single registry round trip
	SweepSchedule string        // cron schedule for the index sweep
	ChannelPrefix string
	PingInterval  time.Duration // server ws ping period
	PongWait      time.Duration // silence after which a stream is dropped
}

type WebPushConfig struct {
	Subject         string
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	TTL             int
	Timeout         time.Duration
}

type TracerConfig struct {
	Address string
}

type LoggerConfig struct {
	Level  string
	Format string
}
