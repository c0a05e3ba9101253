package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"conti/internal/currency"
	"conti/internal/scheduler"
)

type Config struct {
	// HTTP Server
	Port      string `env:"PORT" envDefault:"8081"`
	RateLimit int    `env:"RATE_LIMIT" envDefault:"120"`

	// Database
	SQLiteDBPath string `env:"SQLITE_DB_PATH" envDefault:"./data/conti.db"`

	// Logging and tracing
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat    string `env:"LOG_FORMAT" envDefault:"text"`
	OTelEndpoint string `env:"OTEL_ENDPOINT"`

	// AMQP ledger events; publishing is disabled when the URL is empty.
	AMQPURL      string `env:"AMQP_URL"`
	AMQPExchange string `env:"AMQP_EXCHANGE" envDefault:"conti"`
	AMQPQueue    string `env:"AMQP_QUEUE" envDefault:"ledger_transactions"`

	// Google Sheets mirror
	GoogleSpreadsheetID      string `env:"GOOGLE_SPREADSHEET_ID"`
	GoogleSheetName          string `env:"GOOGLE_SHEET_NAME" envDefault:"Transactions"`
	GoogleServiceAccountJSON string `env:"GOOGLE_SERVICE_ACCOUNT_JSON"`
	GoogleServiceAccountFile string `env:"GOOGLE_SERVICE_ACCOUNT_FILE"`
	GoogleOAuthClientJSON    string `env:"GOOGLE_OAUTH_CLIENT_JSON"`
	GoogleOAuthClientFile    string `env:"GOOGLE_OAUTH_CLIENT_FILE"`
	GoogleOAuthTokenFile     string `env:"GOOGLE_OAUTH_TOKEN_FILE"`

	// Exchange rates. RatesURL wins over RatesStatic.
	RatesURL      string        `env:"RATES_URL"`
	RatesBasePath string        `env:"RATES_BASE_PATH" envDefault:"base_code"`
	RatesPath     string        `env:"RATES_PATH" envDefault:"rates"`
	RatesTTL      time.Duration `env:"RATES_TTL" envDefault:"1h"`
	RatesStatic   string        `env:"RATES_STATIC"`
	RatesBase     string        `env:"RATES_BASE" envDefault:"EUR"`

	// Mail provider; without an API key mails are only logged.
	MailEndpoint string        `env:"MAIL_ENDPOINT"`
	MailAPIKey   string        `env:"MAIL_API_KEY"`
	MailFrom     string        `env:"MAIL_FROM" envDefault:"conti@localhost"`
	MailTimeout  time.Duration `env:"MAIL_TIMEOUT" envDefault:"10s"`

	// Scheduler
	SchedulerEnabled  bool          `env:"SCHEDULER_ENABLED" envDefault:"true"`
	Timezone          string        `env:"TIMEZONE" envDefault:"UTC"`
	ExecutionTime     string        `env:"EXECUTION_TIME" envDefault:"06:00"`
	ReminderTime      string        `env:"REMINDER_TIME" envDefault:"08:00"`
	ReminderSendDelay time.Duration `env:"REMINDER_SEND_DELAY" envDefault:"600ms"`
	EngineConcurrency int           `env:"ENGINE_CONCURRENCY" envDefault:"1"`
}

// Load reads the configuration from the environment. Malformed values
// (a non-numeric ENGINE_CONCURRENCY, a bad duration) are reported, not
// replaced by defaults.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Location returns the scheduler timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.RateLimit < 1 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be at least 1 request per minute", c.RateLimit))
	}

	// Validate SQLite configuration
	if c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty")
	} else {
		// Check if directory exists or can be created
		dir := filepath.Dir(c.SQLiteDBPath)
		if dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of [debug info warn error]", c.LogLevel))
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be one of [text json]", c.LogFormat))
	}

	if c.OTelEndpoint != "" {
		if u, err := url.Parse(c.OTelEndpoint); err != nil || u.Host == "" {
			errors = append(errors, fmt.Sprintf("invalid OTEL endpoint '%s': must be an absolute URL", c.OTelEndpoint))
		}
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	// Validate Google Sheets configuration if a spreadsheet is configured
	if c.GoogleSpreadsheetID != "" {
		hasJSON := c.GoogleServiceAccountJSON != ""
		hasFile := c.GoogleServiceAccountFile != ""
		hasToken := c.GoogleOAuthTokenFile != ""
		if !hasJSON && !hasFile && !hasToken {
			errors = append(errors, "either GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE must be provided with GOOGLE_SPREADSHEET_ID, or GOOGLE_OAUTH_TOKEN_FILE with an OAuth client")
		}
		if hasToken && !hasJSON && !hasFile && c.GoogleOAuthClientJSON == "" && c.GoogleOAuthClientFile == "" {
			errors = append(errors, "GOOGLE_OAUTH_TOKEN_FILE requires GOOGLE_OAUTH_CLIENT_JSON or GOOGLE_OAUTH_CLIENT_FILE")
		}
		if hasFile {
			if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
			}
		}
	}

	// Validate exchange rates
	if c.RatesURL != "" {
		if u, err := url.Parse(c.RatesURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			errors = append(errors, fmt.Sprintf("invalid rates URL '%s': must be http or https", c.RatesURL))
		}
		if c.RatesTTL < time.Second {
			errors = append(errors, fmt.Sprintf("invalid rates TTL %v: must be at least 1 second", c.RatesTTL))
		}
	} else if _, err := currency.ParseStaticQuotes(c.RatesBase, c.RatesStatic); err != nil {
		errors = append(errors, fmt.Sprintf("invalid static rates: %v", err))
	}

	// Validate mail
	if c.MailAPIKey != "" {
		if u, err := url.Parse(c.MailEndpoint); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			errors = append(errors, fmt.Sprintf("invalid mail endpoint '%s': must be http or https when MAIL_API_KEY is set", c.MailEndpoint))
		}
	}
	if !strings.Contains(c.MailFrom, "@") {
		errors = append(errors, fmt.Sprintf("invalid mail sender '%s': must be an email address", c.MailFrom))
	}
	if c.MailTimeout < time.Second {
		errors = append(errors, fmt.Sprintf("invalid mail timeout %v: must be at least 1 second", c.MailTimeout))
	}

	// Validate scheduler
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errors = append(errors, fmt.Sprintf("invalid timezone '%s': %v", c.Timezone, err))
	}
	if _, _, err := scheduler.ParseClock(c.ExecutionTime); err != nil {
		errors = append(errors, fmt.Sprintf("invalid execution time: %v", err))
	}
	if _, _, err := scheduler.ParseClock(c.ReminderTime); err != nil {
		errors = append(errors, fmt.Sprintf("invalid reminder time: %v", err))
	}
	if c.ReminderSendDelay < 0 || c.ReminderSendDelay > time.Minute {
		errors = append(errors, fmt.Sprintf("invalid reminder send delay %v: must be between 0 and 1 minute", c.ReminderSendDelay))
	}
	if c.EngineConcurrency < 1 || c.EngineConcurrency > 32 {
		errors = append(errors, fmt.Sprintf("invalid engine concurrency %d: must be between 1 and 32", c.EngineConcurrency))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}
