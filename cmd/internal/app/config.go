package app

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix namespaces every variable read by LoadConfig (COURIER_LOG_LEVEL, ...).
const EnvPrefix = "COURIER"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn warning error"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json" validate:"oneof=json text pretty"`

	IssuerAddr string `envconfig:"ISSUER_ADDR" default:":4000" validate:"required"`
	HubAddr    string `envconfig:"HUB_ADDR" default:":3000" validate:"required"`

	ReadHeaderTimeout time.Duration `envconfig:"HTTP_READ_HEADER_TIMEOUT" default:"5s"`
	ReadTimeout       time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"15s"`
	WriteTimeout      time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"15s"`
	IdleTimeout       time.Duration `envconfig:"HTTP_IDLE_TIMEOUT" default:"60s"`
	MaxHeaderBytes    int           `envconfig:"HTTP_MAX_HEADER_BYTES" default:"1048576"`

	// SnapshotPath is read at issuer startup and written at shutdown.
	// A .yaml/.yml extension selects YAML.
	SnapshotPath string `envconfig:"SNAPSHOT_PATH" default:"users.json"`

	TokenSigningKey string        `envconfig:"TOKEN_SIGNING_KEY"`
	TokenTTL        time.Duration `envconfig:"TOKEN_TTL" default:"1h" validate:"gt=0"`
	TokenIssuer     string        `envconfig:"TOKEN_ISSUER" default:"courier"`
	// RequireSigningKey refuses to start with a per-process random key.
	RequireSigningKey bool `envconfig:"REQUIRE_SIGNING_KEY" default:"false"`

	// IssuerURL is where a standalone hub verifies tokens.
	IssuerURL       string        `envconfig:"ISSUER_URL" default:"http://localhost:4000" validate:"url"`
	VerifyTimeout   time.Duration `envconfig:"VERIFY_TIMEOUT" default:"10s" validate:"gt=0"`
	VerifyCacheTTL  time.Duration `envconfig:"VERIFY_CACHE_TTL" default:"0s" validate:"gte=0"`
	VerifyCacheSize int           `envconfig:"VERIFY_CACHE_SIZE" default:"1024"`

	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s" validate:"gt=0"`

	CORSAllowedOrigins  []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	TrustProxy          bool          `envconfig:"TRUST_PROXY" default:"false"`
	LoginFailuresMax    int           `envconfig:"LOGIN_FAILURES_MAX" default:"20"`
	LoginFailuresWindow time.Duration `envconfig:"LOGIN_FAILURES_WINDOW" default:"5m"`

	WSAllowedOrigins     []string      `envconfig:"WS_ALLOWED_ORIGINS" default:"*"`
	WSInsecureSkipVerify bool          `envconfig:"WS_INSECURE_SKIP_VERIFY" default:"false"`
	WSWriteTimeout       time.Duration `envconfig:"WS_WRITE_TIMEOUT" default:"5s"`
	WSReadIdleTimeout    time.Duration `envconfig:"WS_READ_IDLE_TIMEOUT" default:"0s"`
	WSSendQueue          int           `envconfig:"WS_SEND_QUEUE" default:"256"`
	WSHeartbeatInterval  time.Duration `envconfig:"WS_HEARTBEAT_INTERVAL" default:"25s"`
	WSHeartbeatTimeout   time.Duration `envconfig:"WS_HEARTBEAT_TIMEOUT" default:"5s"`
	WSRateEvents         int           `envconfig:"WS_RATE_EVENTS" default:"120"`
	WSRateWindow         time.Duration `envconfig:"WS_RATE_WINDOW" default:"10s"`
}

// LoadConfig reads an optional .env file and then the process environment.
// Variables already set in the environment win over the file.
func LoadConfig(envFiles ...string) (Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}

	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("process env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges that envconfig cannot express.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
