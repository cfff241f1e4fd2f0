package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration. It is loaded once at process start
// and passed by value; nothing mutates it afterwards.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	OTLPEndpoint string

	// Account is shared by the inbound and outbound mail transports.
	AccountAddress  string
	AccountPassword string

	IMAPHost    string
	IMAPPort    int
	IMAPFolder  string
	IMAPTimeout time.Duration

	SMTPHost    string
	SMTPPort    int
	SMTPTimeout time.Duration

	PollInterval     time.Duration
	PollErrorBackoff time.Duration
	MaxAttempts      int
	DedupWindow      time.Duration

	LedgerDriver string
	LedgerPath   string

	DBHost     string
	DBPort     string
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	ArtifactDir    string
	ArtifactFormat string

	DeliveryConfigPath string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	LeaseTTL      time.Duration

	StatusAddr string

	SnowflakeNode int64
}

const (
	LedgerDriverSQLite   = "sqlite"
	LedgerDriverPostgres = "postgres"
	LedgerDriverMySQL    = "mysql"
	LedgerDriverJSON     = "json"

	ArtifactFormatText = "text"
	ArtifactFormatPDF  = "pdf"
)

var (
	ErrMissingAccount  = errors.New("mail_account_required")
	ErrMissingIMAPHost = errors.New("imap_host_required")
	ErrMissingSMTPHost = errors.New("smtp_host_required")
	ErrInvalidDriver   = errors.New("invalid_ledger_driver")
	ErrInvalidFormat   = errors.New("invalid_artifact_format")
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	account := strings.TrimSpace(getenv("MAIL_ADDRESS", ""))
	imapHost, smtpHost := defaultHosts(account)
	driver := strings.ToLower(getenv("LEDGER_DRIVER", LedgerDriverSQLite))
	ledgerPath := "customers.db"
	if driver == LedgerDriverJSON {
		ledgerPath = "customers.json"
	}

	cfg := Config{
		AppName:            getenv("APP_SERVICE", "paymail"),
		AppVersion:         getenv("APP_VERSION", "0.1.0"),
		Environment:        getenv("ENVIRONMENT", "development"),
		OTLPEndpoint:       getenv("OTLP_ENDPOINT", "localhost:4317"),
		AccountAddress:     account,
		AccountPassword:    os.Getenv("MAIL_PASSWORD"),
		IMAPHost:           strings.TrimSpace(getenv("IMAP_HOST", imapHost)),
		IMAPPort:           getenvInt("IMAP_PORT", 993),
		IMAPFolder:         getenv("IMAP_FOLDER", "INBOX"),
		IMAPTimeout:        getenvDuration("IMAP_TIMEOUT", time.Minute),
		SMTPHost:           strings.TrimSpace(getenv("SMTP_HOST", smtpHost)),
		SMTPPort:           getenvInt("SMTP_PORT", 587),
		SMTPTimeout:        getenvDuration("SMTP_TIMEOUT", time.Minute),
		PollInterval:       getenvDuration("POLL_INTERVAL", 5*time.Minute),
		PollErrorBackoff:   getenvDuration("POLL_ERROR_BACKOFF", time.Minute),
		MaxAttempts:        getenvInt("DELIVERY_MAX_ATTEMPTS", 3),
		DedupWindow:        getenvDuration("DEDUP_WINDOW", 24*time.Hour),
		LedgerDriver:       driver,
		LedgerPath:         getenv("LEDGER_PATH", ledgerPath),
		DBHost:             getenv("DATABASE_HOST", "localhost"),
		DBPort:             getenv("DATABASE_PORT", "5432"),
		DBName:             getenv("DATABASE_NAME", "paymail"),
		DBUser:             getenv("DATABASE_USER", "paymail"),
		DBPassword:         os.Getenv("DATABASE_PASSWORD"),
		DBSSLMode:          getenv("DATABASE_SSLMODE", "disable"),
		ArtifactDir:        getenv("ARTIFACT_DIR", "."),
		ArtifactFormat:     strings.ToLower(getenv("ARTIFACT_FORMAT", ArtifactFormatText)),
		DeliveryConfigPath: getenv("DELIVERY_CONFIG_PATH", "."),
		RedisAddr:          strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		RedisDB:            getenvInt("REDIS_DB", 0),
		LeaseTTL:           getenvDuration("POLL_LEASE_TTL", 10*time.Minute),
		StatusAddr:         strings.TrimSpace(getenv("STATUS_ADDR", "")),
		SnowflakeNode:      getenvInt64("SNOWFLAKE_NODE", 1),
	}

	return cfg
}

// Validate checks the settings needed to talk to the mail transports.
// Report mode only needs the ledger, so callers decide when to run it.
func (c Config) Validate() error {
	var errs []error
	if c.AccountAddress == "" || c.AccountPassword == "" {
		errs = append(errs, ErrMissingAccount)
	}
	if c.IMAPHost == "" {
		errs = append(errs, ErrMissingIMAPHost)
	}
	if c.SMTPHost == "" {
		errs = append(errs, ErrMissingSMTPHost)
	}
	return errors.Join(append(errs, c.ValidateLedger())...)
}

// ValidateLedger checks the settings every mode depends on.
func (c Config) ValidateLedger() error {
	switch c.LedgerDriver {
	case LedgerDriverSQLite, LedgerDriverPostgres, LedgerDriverMySQL, LedgerDriverJSON:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidDriver, c.LedgerDriver)
	}
	switch c.ArtifactFormat {
	case ArtifactFormatText, ArtifactFormatPDF:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidFormat, c.ArtifactFormat)
	}
	return nil
}

// defaultHosts guesses the provider hosts from the account domain, the same
// shortcut the setup wizard offered for the common webmail providers.
func defaultHosts(account string) (imapHost, smtpHost string) {
	domain := strings.ToLower(account)
	if i := strings.LastIndex(domain, "@"); i >= 0 {
		domain = domain[i+1:]
	}
	switch {
	case strings.Contains(domain, "yahoo"):
		return "imap.mail.yahoo.com", "smtp.mail.yahoo.com"
	case strings.Contains(domain, "gmail"):
		return "imap.gmail.com", "smtp.gmail.com"
	default:
		return "", ""
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
