package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadLedgerOrDefaultMissingPathUsesDefaults(t *testing.T) {
	cfg, err := LoadLedgerOrDefault("")
	require.NoError(t, err)
	require.Equal(t, EnvDev, cfg.Environment)
	require.Equal(t, 3, cfg.RefundRetry.MaxAttempts)
	require.Equal(t, 100*time.Millisecond, cfg.RefundRetry.InitialBackoff)
	require.NoError(t, cfg.Validate())
}

func TestLoadLedgerOrDefaultReadsYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.yaml")
	body := []byte("environment: staging\nrefundRetry:\n  maxAttempts: 5\n")
	require.NoError(t, os.WriteFile(path, body, 0o600))

	cfg, err := LoadLedgerOrDefault(path)
	require.NoError(t, err)
	require.Equal(t, EnvStaging, cfg.Environment)
	require.Equal(t, 5, cfg.RefundRetry.MaxAttempts)
	require.Equal(t, 100*time.Millisecond, cfg.RefundRetry.InitialBackoff)
}

func TestLedgerConfigValidateRejectsZeroMaxAttempts(t *testing.T) {
	cfg := defaultLedgerConfig()
	cfg.RefundRetry.MaxAttempts = 0
	require.Error(t, cfg.Validate())
}

func TestLedgerConfigValidateRejectsBadDSN(t *testing.T) {
	cfg := defaultLedgerConfig()
	cfg.Database.DSN = ""
	require.Error(t, cfg.Validate())
}
