package internal

import (
	"time"
)

type Config struct {
	Host string `env:"HOST,required=true"`
	Port int    `env:"PORT,required=true"`

	JWTSecret         string        `env:"JWT_SECRET,required=true"`
	AuthTokenDuration time.Duration `env:"AUTH_TOKEN_DURATION,required=true"`

	ConnectionBufferSize int  `env:"CONNECTION_BUFFER_SIZE,required=true"`
	LimitMessages        *int `env:"LIMIT_MESSAGES"`

	RateLimitWindow time.Duration `env:"RATE_LIMIT_WINDOW,required=true"`
	RateLimitMax    int           `env:"RATE_LIMIT_MAX,required=true"`

	BadgerFilepath string `env:"BADGER_FILEPATH,required=true"`
	BlugeFilepath  string `env:"BLUGE_FILEPATH,required=true"`

	MetricInterval  time.Duration `env:"METRIC_INTERVAL,required=true"`
	EvictInterval   time.Duration `env:"EVICT_INTERVAL,required=true"`
	RestartInterval time.Duration `env:"RESTART_INTERVAL,required=true"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,required=true"`

	LogLevel string `env:"LOG_LEVEL,required=true"`
}
