package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSecretFor(t *testing.T) {
	cfg := Config{}
	cfg.Webhook.Secrets = map[string]string{
		"default": "whsec_default",
		"test":    "whsec_test",
	}

	secret, err := cfg.SecretFor("")
	require.NoError(t, err)
	require.Equal(t, "whsec_default", secret)

	secret, err = cfg.SecretFor("test")
	require.NoError(t, err)
	require.Equal(t, "whsec_test", secret)

	_, err = cfg.SecretFor("staging")
	require.ErrorIs(t, err, ErrMissingWebhookSecret)
}

func TestSecretForEmptySecret(t *testing.T) {
	cfg := Config{}
	cfg.Webhook.Secrets = map[string]string{"default": "  "}

	_, err := cfg.SecretFor("")
	require.ErrorIs(t, err, ErrMissingWebhookSecret)
}

func TestSecretRotation(t *testing.T) {
	t.Chdir(t.TempDir())

	write := func(secret string) {
		data := "webhook:\n  secrets:\n    default: " + secret + "\n"
		require.NoError(t, os.WriteFile("paygate.yaml", []byte(data), 0o600))
	}
	write("whsec_old")

	cfg, err := Load()
	require.NoError(t, err)

	secret, err := cfg.SecretFor("")
	require.NoError(t, err)
	require.Equal(t, "whsec_old", secret)

	// Consumers hold copies of cfg; rotation must reach them too.
	copied := cfg

	write("whsec_new")
	require.Eventually(t, func() bool {
		secret, err := copied.SecretFor("")
		return err == nil && secret == "whsec_new"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestTolerance(t *testing.T) {
	cfg := Config{}
	require.Equal(t, 5*time.Minute, cfg.Tolerance())

	cfg.Webhook.ToleranceSeconds = 120
	require.Equal(t, 2*time.Minute, cfg.Tolerance())
}
