package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "batch"
	cfg.Server.Port = 0
	cfg.Ledger.Accounts = map[string]int64{"not-an-address": 100}
	cfg.Ledger.Tokens = []string{"0xzz"}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "server: port")
	assert.Contains(t, err.Error(), "invalid account address")
	assert.Contains(t, err.Error(), "invalid token address")
}

func TestValidateDemoSkipsInfraSections(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "demo"
	cfg.Database = DatabaseConfig{}
	cfg.Redis = RedisConfig{}
	require.NoError(t, cfg.Validate())
}

func TestValidateEncryptedKeyNeedsPassword(t *testing.T) {
	cfg := Defaults()
	cfg.Wallet.EncryptedKeyPath = "/tmp/key.enc"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key_password")
}

func TestDurationUnmarshalText(t *testing.T) {
	var d duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	assert.Equal(t, "1m30s", d.Duration.String())
	require.Error(t, d.UnmarshalText([]byte("soon")))
}

func TestRedactedConfigHidesSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "deadbeef"
	cfg.Database.Password = "hunter2"
	cfg.Server.APIKey = "secret"
	cfg.Notify.TelegramToken = "tok"

	red := RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Wallet.PrivateKey)
	assert.Equal(t, "***", red.Database.Password)
	assert.Equal(t, "***", red.Server.APIKey)
	assert.Equal(t, "***", red.Notify.TelegramToken)

	// Originals untouched.
	assert.Equal(t, "deadbeef", cfg.Wallet.PrivateKey)

	// Mutating the copy's collections must not leak back.
	red.Notify.Events[0] = "changed"
	assert.NotEqual(t, "changed", cfg.Notify.Events[0])
}
