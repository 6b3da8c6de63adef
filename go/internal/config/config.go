// Package config loads process settings from the environment and game rules from YAML.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/mcdev12/livequiz/go/internal/dbconfig"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const devTokenSecret = "livequiz-dev-secret-change-me"

// Store drivers accepted in QUIZ_STORE.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

type Config struct {
	Port     string `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	Store      string          `env:"QUIZ_STORE" envDefault:"memory"`
	SQLitePath string          `env:"QUIZ_SQLITE_PATH" envDefault:"livequiz.db"`
	DB         dbconfig.Config `envPrefix:"DB_"`

	// NATSURL enables domain event publication when set.
	NATSURL string `env:"NATS_URL"`

	TokenSecret string        `env:"QUIZ_TOKEN_SECRET" envDefault:"livequiz-dev-secret-change-me"`
	TokenTTL    time.Duration `env:"QUIZ_TOKEN_TTL" envDefault:"24h"`

	RulesPath   string `env:"QUIZ_RULES_PATH" envDefault:"config/rules.yaml"`
	CatalogPath string `env:"QUIZ_CATALOG_PATH" envDefault:"config/quizzes.yaml"`

	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`

	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName  string `env:"OTEL_SERVICE_NAME" envDefault:"livequiz"`
}

// Load reads .env when present and parses the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse env: %w", err)
	}
	switch cfg.Store {
	case StoreMemory, StoreSQLite, StorePostgres:
	default:
		return Config{}, fmt.Errorf("unknown QUIZ_STORE %q", cfg.Store)
	}
	if cfg.TokenSecret == devTokenSecret {
		log.Warn().Msg("QUIZ_TOKEN_SECRET not set, using the development secret")
	}
	return cfg, nil
}

// ConfigureLogging installs the console writer and the level from LOG_LEVEL.
func ConfigureLogging(level string) {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

// Rules are the tunable game timings.
type Rules struct {
	SessionTTL          time.Duration `yaml:"session_ttl"`
	Intermission        time.Duration `yaml:"intermission"`
	DefaultQuestionTime time.Duration `yaml:"default_question_time"`
	AdvancePercent      int           `yaml:"advance_percent"`
	AdvanceGrace        time.Duration `yaml:"advance_grace"`
	PinAttempts         int           `yaml:"pin_attempts"`
}

// DefaultRules returns the rules used when the rules file omits a field.
func DefaultRules() Rules {
	return Rules{
		SessionTTL:          10 * time.Minute,
		Intermission:        15 * time.Second,
		DefaultQuestionTime: 20 * time.Second,
		AdvancePercent:      80,
		AdvanceGrace:        time.Second,
		PinAttempts:         10,
	}
}

// Validate checks every rule is in range.
func (r Rules) Validate() error {
	var errs []error
	if r.SessionTTL <= 0 {
		errs = append(errs, errors.New("session_ttl must be positive"))
	}
	if r.Intermission <= 0 {
		errs = append(errs, errors.New("intermission must be positive"))
	}
	if r.DefaultQuestionTime < time.Second {
		errs = append(errs, errors.New("default_question_time must be at least 1s"))
	}
	if r.AdvancePercent < 1 || r.AdvancePercent > 100 {
		errs = append(errs, fmt.Errorf("advance_percent must be in [1, 100], got %d", r.AdvancePercent))
	}
	if r.AdvanceGrace < 0 {
		errs = append(errs, errors.New("advance_grace must not be negative"))
	}
	if r.PinAttempts < 1 {
		errs = append(errs, errors.New("pin_attempts must be at least 1"))
	}
	return errors.Join(errs...)
}

// LoadRules reads rules from path, starting from DefaultRules. A missing
// file yields the defaults.
func LoadRules(path string) (Rules, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Info().Str("path", path).Msg("no rules file, using defaults")
		return DefaultRules(), nil
	}
	if err != nil {
		return Rules{}, fmt.Errorf("failed to open rules file: %w", err)
	}
	defer f.Close()
	return ReadRules(f)
}

// ReadRules parses YAML rules. Unknown keys are rejected.
func ReadRules(r io.Reader) (Rules, error) {
	rules := DefaultRules()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&rules); err != nil && !errors.Is(err, io.EOF) {
		return Rules{}, fmt.Errorf("failed to parse rules: %w", err)
	}
	if err := rules.Validate(); err != nil {
		return Rules{}, fmt.Errorf("invalid rules: %w", err)
	}
	return rules, nil
}
