package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"MAIL_ADDRESS", "MAIL_PASSWORD", "IMAP_HOST", "SMTP_HOST", "IMAP_PORT", "SMTP_PORT",
		"POLL_INTERVAL", "LEDGER_DRIVER", "LEDGER_PATH", "ARTIFACT_FORMAT", "DELIVERY_MAX_ATTEMPTS",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("MAIL_ADDRESS", "shop@gmail.com")

	cfg := Load()
	assert.Equal(t, "imap.gmail.com", cfg.IMAPHost)
	assert.Equal(t, "smtp.gmail.com", cfg.SMTPHost)
	assert.Equal(t, 993, cfg.IMAPPort)
	assert.Equal(t, 587, cfg.SMTPPort)
	assert.Equal(t, 5*time.Minute, cfg.PollInterval)
	assert.Equal(t, time.Minute, cfg.PollErrorBackoff)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, LedgerDriverSQLite, cfg.LedgerDriver)
	assert.Equal(t, "customers.db", cfg.LedgerPath)
	assert.Equal(t, ArtifactFormatText, cfg.ArtifactFormat)
}

func TestLoadJSONLedgerDefaultsToFlatFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("LEDGER_DRIVER", "JSON")

	cfg := Load()
	assert.Equal(t, LedgerDriverJSON, cfg.LedgerDriver)
	assert.Equal(t, "customers.json", cfg.LedgerPath)
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	clearEnv(t)
	t.Setenv("IMAP_PORT", "nine")
	t.Setenv("POLL_INTERVAL", "-5s")

	cfg := Load()
	assert.Equal(t, 993, cfg.IMAPPort)
	assert.Equal(t, 5*time.Minute, cfg.PollInterval)
}

func TestValidate(t *testing.T) {
	valid := Config{
		AccountAddress:  "shop@yahoo.com",
		AccountPassword: "app-password",
		IMAPHost:        "imap.mail.yahoo.com",
		SMTPHost:        "smtp.mail.yahoo.com",
		LedgerDriver:    LedgerDriverSQLite,
		ArtifactFormat:  ArtifactFormatPDF,
	}
	require.NoError(t, valid.Validate())

	missing := valid
	missing.AccountPassword = ""
	missing.SMTPHost = ""
	err := missing.Validate()
	assert.ErrorIs(t, err, ErrMissingAccount)
	assert.ErrorIs(t, err, ErrMissingSMTPHost)

	badDriver := valid
	badDriver.LedgerDriver = "mongo"
	assert.ErrorIs(t, badDriver.Validate(), ErrInvalidDriver)

	badFormat := valid
	badFormat.ArtifactFormat = "docx"
	assert.ErrorIs(t, badFormat.ValidateLedger(), ErrInvalidFormat)
}

func TestDeliveryCopyHolderDefaultsWithoutFile(t *testing.T) {
	holder, err := NewDeliveryCopyHolder(Config{
		AccountAddress:     "shop@test.com",
		DeliveryConfigPath: t.TempDir(),
	}, zap.NewNop())
	require.NoError(t, err)

	copyCfg := holder.Get()
	assert.Equal(t, DefaultDeliveryCopy().Subject, copyCfg.Subject)
	assert.Equal(t, "shop@test.com", copyCfg.SupportEmail)
}

func TestDeliveryCopyHolderReadsFile(t *testing.T) {
	dir := t.TempDir()
	body := "delivery:\n  subject: Your guide\n  body: \"Thanks for {{.Amount}}\"\n  sections:\n    - Setup\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "delivery.yml"), []byte(body), 0o644))

	holder, err := NewDeliveryCopyHolder(Config{DeliveryConfigPath: dir}, zap.NewNop())
	require.NoError(t, err)

	copyCfg := holder.Get()
	assert.Equal(t, "Your guide", copyCfg.Subject)
	assert.Equal(t, "Thanks for {{.Amount}}", copyCfg.Body)
	assert.Equal(t, []string{"Setup"}, copyCfg.Sections)
	assert.Equal(t, DefaultDeliveryCopy().ProductName, copyCfg.ProductName)
}

func TestDeliveryCopyHolderRejectsEmptySubject(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "delivery.yml"), []byte("delivery:\n  subject: \"\"\n"), 0o644))

	_, err := NewDeliveryCopyHolder(Config{DeliveryConfigPath: dir}, zap.NewNop())
	assert.Error(t, err)
}
