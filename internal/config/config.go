// Package config loads the expense tracker settings from flags, environment
// variables and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
)

// EnvPrefix is prepended to every flag name to form its environment variable
const EnvPrefix = "EXPENSE_TRACKER"

// Storage backends
const (
	StorageLocal = "local"
	StorageGCS   = "gcs"
)

// Scanner backends
const (
	ScannerNone   = "none"
	ScannerGemini = "gemini"
	ScannerOllama = "ollama"
)

// Config holds every runtime setting
type Config struct {
	// HTTP server
	Addr     string
	AuthUser string
	AuthPass string

	// Persistence
	DBPath         string
	StorageBackend string
	StorageDir     string
	GCSBucket      string
	GCSPrefix      string

	// Ingestion
	DefaultCurrency string
	MaxFieldBytes   int
	MaxUploadMB     int

	// Scanning
	Scanner     string
	GeminiKey   string
	GeminiModel string
	OllamaURL   string
	OllamaModel string

	// Events
	AMQPURL      string
	AMQPExchange string

	// Orphan sweep
	SweepInterval time.Duration
	SweepGrace    time.Duration

	// Logging
	LogFormat string
	LogLevel  string

	ShowVersion bool
}

// Load parses args on top of the environment. Files in envFiles are loaded
// into the environment first; missing files are skipped and variables that
// are already set win.
func Load(args []string, envFiles ...string) (*Config, error) {
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", file, err)
		}
	}

	flags := ff.NewFlagSet("expense-tracker")
	var (
		addr            = flags.StringLong("addr", ":8080", "HTTP listen address")
		authUser        = flags.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass        = flags.StringLong("auth-pass", "", "Basic auth password (optional)")
		dbPath          = flags.StringLong("db", "expense-tracker.db", "Database file path")
		storageBackend  = flags.StringLong("storage-backend", StorageLocal, "Receipt storage: 'local' or 'gcs'")
		storageDir      = flags.StringLong("storage", "./receipts", "Receipt directory for local storage")
		gcsBucket       = flags.StringLong("gcs-bucket", "", "Cloud Storage bucket for gcs storage")
		gcsPrefix       = flags.StringLong("gcs-prefix", "receipts/", "Object name prefix for gcs storage")
		defaultCurrency = flags.StringLong("default-currency", "INR", "Currency for items that do not name one")
		maxFieldBytes   = flags.IntLong("max-field-bytes", 1<<20, "Largest accepted text form field, in bytes")
		maxUploadMB     = flags.IntLong("max-upload-mb", 50, "Largest accepted receipt file, in megabytes")
		scanner         = flags.StringLong("scanner", ScannerNone, "Receipt scanner: 'none', 'gemini' or 'ollama'")
		geminiKey       = flags.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel     = flags.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		ollamaURL       = flags.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel     = flags.StringLong("ollama-model", "llava", "Ollama model name")
		amqpURL         = flags.StringLong("amqp-url", "", "AMQP broker URL for lifecycle events (optional)")
		amqpExchange    = flags.StringLong("amqp-exchange", "expenses", "AMQP exchange for lifecycle events")
		sweepInterval   = flags.DurationLong("sweep-interval", 6*time.Hour, "How often to sweep orphaned receipts (0 disables)")
		sweepGrace      = flags.DurationLong("sweep-grace", time.Hour, "Minimum age of an orphaned receipt before it is swept")
		logFormat       = flags.StringLong("log-format", "text", "Log format: 'text' or 'json'")
		logLevel        = flags.StringLong("log-level", "info", "Log level: debug, info, warn or error")
		showVersion     = flags.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(flags, args, ff.WithEnvVarPrefix(EnvPrefix)); err != nil {
		return nil, fmt.Errorf("%s\n%w", ffhelp.Flags(flags), err)
	}

	cfg := &Config{
		Addr:            *addr,
		AuthUser:        *authUser,
		AuthPass:        *authPass,
		DBPath:          *dbPath,
		StorageBackend:  strings.ToLower(*storageBackend),
		StorageDir:      *storageDir,
		GCSBucket:       *gcsBucket,
		GCSPrefix:       *gcsPrefix,
		DefaultCurrency: strings.ToUpper(strings.TrimSpace(*defaultCurrency)),
		MaxFieldBytes:   *maxFieldBytes,
		MaxUploadMB:     *maxUploadMB,
		Scanner:         strings.ToLower(*scanner),
		GeminiKey:       *geminiKey,
		GeminiModel:     *geminiModel,
		OllamaURL:       *ollamaURL,
		OllamaModel:     *ollamaModel,
		AMQPURL:         *amqpURL,
		AMQPExchange:    *amqpExchange,
		SweepInterval:   *sweepInterval,
		SweepGrace:      *sweepGrace,
		LogFormat:       strings.ToLower(*logFormat),
		LogLevel:        strings.ToLower(*logLevel),
		ShowVersion:     *showVersion,
	}
	if cfg.GeminiKey == "" {
		cfg.GeminiKey = os.Getenv("GEMINI_API_KEY")
	}

	return cfg, nil
}

// MaxUploadBytes converts the upload limit to bytes
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

// Validate checks the configuration and reports every problem at once
func (c *Config) Validate() error {
	var problems []string

	if c.Addr == "" {
		problems = append(problems, "listen address cannot be empty")
	}
	if (c.AuthUser == "") != (c.AuthPass == "") {
		problems = append(problems, "basic auth needs both --auth-user and --auth-pass")
	}
	if c.DBPath == "" {
		problems = append(problems, "database path cannot be empty")
	}

	switch c.StorageBackend {
	case StorageLocal:
		if c.StorageDir == "" {
			problems = append(problems, "storage directory cannot be empty when using local storage")
		}
	case StorageGCS:
		if c.GCSBucket == "" {
			problems = append(problems, "GCS bucket is required when using gcs storage")
		}
	default:
		problems = append(problems, fmt.Sprintf("invalid storage backend '%s': must be one of [local gcs]", c.StorageBackend))
	}

	if len(c.DefaultCurrency) != 3 {
		problems = append(problems, fmt.Sprintf("invalid default currency '%s': must be a three-letter code", c.DefaultCurrency))
	}
	if c.MaxFieldBytes < 1 {
		problems = append(problems, fmt.Sprintf("invalid max field size %d: must be at least 1 byte", c.MaxFieldBytes))
	}
	if c.MaxUploadMB < 1 {
		problems = append(problems, fmt.Sprintf("invalid max upload size %dMB: must be at least 1MB", c.MaxUploadMB))
	}

	switch c.Scanner {
	case ScannerNone:
	case ScannerGemini:
		if c.GeminiKey == "" {
			problems = append(problems, "Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
		}
	case ScannerOllama:
		if u, err := url.Parse(c.OllamaURL); err != nil || u.Host == "" {
			problems = append(problems, fmt.Sprintf("invalid Ollama URL '%s'", c.OllamaURL))
		}
	default:
		problems = append(problems, fmt.Sprintf("invalid scanner '%s': must be one of [none gemini ollama]", c.Scanner))
	}

	if c.AMQPURL != "" {
		if u, err := url.Parse(c.AMQPURL); err != nil {
			problems = append(problems, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if u.Scheme != "amqp" && u.Scheme != "amqps" {
			problems = append(problems, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", u.Scheme))
		}
		if c.AMQPExchange == "" {
			problems = append(problems, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
	}

	if c.SweepInterval < 0 {
		problems = append(problems, fmt.Sprintf("invalid sweep interval %v: cannot be negative", c.SweepInterval))
	} else if c.SweepInterval > 0 && c.SweepInterval < time.Minute {
		problems = append(problems, fmt.Sprintf("invalid sweep interval %v: must be at least 1 minute", c.SweepInterval))
	}
	if c.SweepGrace < 0 {
		problems = append(problems, fmt.Sprintf("invalid sweep grace %v: cannot be negative", c.SweepGrace))
	}

	if c.LogFormat != "text" && c.LogFormat != "json" {
		problems = append(problems, fmt.Sprintf("invalid log format '%s': must be 'text' or 'json'", c.LogFormat))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		problems = append(problems, err.Error())
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(problems, "\n- "))
	}
	return nil
}

// Logger builds the slog logger described by the log settings
func (c *Config) Logger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level '%s': must be debug, info, warn or error", s)
	}
	return level, nil
}
