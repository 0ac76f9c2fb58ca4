package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadGlobal_Defaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("PLEDGE_HOME", home)

	cfg, err := LoadGlobal()
	require.NoError(t, err)
	assert.Equal(t, "localhost", cfg.RelyingParty.ID)
	assert.Equal(t, 5*time.Minute, cfg.Challenge.TTL)
	assert.Equal(t, filepath.Join(home, "pledge.db"), cfg.Store.Path)
	assert.Equal(t, filepath.Join(home, "artifacts"), cfg.Store.ArtifactsDir)
	assert.Empty(t, cfg.Authority.Secret)
}

func TestLoadGlobal_File(t *testing.T) {
	home := t.TempDir()
	t.Setenv("PLEDGE_HOME", home)

	content := `
relying_party:
  id: pledge.example
  origin: https://pledge.example
authority:
  issuer: Example Authority
  secret: env://PLEDGE_TEST_SECRET
challenge:
  ttl: 90s
  max_entries: 50
debug:
  retention_days: 3
`
	require.NoError(t, os.WriteFile(filepath.Join(home, "config.yaml"), []byte(content), 0600))

	cfg, err := LoadGlobal()
	require.NoError(t, err)
	assert.Equal(t, "pledge.example", cfg.RelyingParty.ID)
	assert.Equal(t, "https://pledge.example", cfg.RelyingParty.Origin)
	assert.Equal(t, "Pledge", cfg.RelyingParty.Name, "unset keys keep defaults")
	assert.Equal(t, "Example Authority", cfg.Authority.Issuer)
	assert.Equal(t, "env://PLEDGE_TEST_SECRET", cfg.Authority.Secret)
	assert.Equal(t, 90*time.Second, cfg.Challenge.TTL)
	assert.Equal(t, 50, cfg.Challenge.MaxEntries)
	assert.Equal(t, 3, cfg.Debug.RetentionDays)
}

func TestLoadGlobal_EnvOverrides(t *testing.T) {
	t.Setenv("PLEDGE_HOME", t.TempDir())
	t.Setenv("PLEDGE_RP_ID", "env.example")
	t.Setenv("PLEDGE_AUTHORITY_SECRET", "keyring")
	t.Setenv("PLEDGE_CHALLENGE_TTL", "2m")
	t.Setenv("PLEDGE_STORE", "/tmp/other.db")

	cfg, err := LoadGlobal()
	require.NoError(t, err)
	assert.Equal(t, "env.example", cfg.RelyingParty.ID)
	assert.Equal(t, "keyring", cfg.Authority.Secret)
	assert.Equal(t, 2*time.Minute, cfg.Challenge.TTL)
	assert.Equal(t, "/tmp/other.db", cfg.Store.Path)
}

func TestLoadGlobal_InvalidInput(t *testing.T) {
	home := t.TempDir()
	t.Setenv("PLEDGE_HOME", home)

	t.Run("bad ttl env", func(t *testing.T) {
		t.Setenv("PLEDGE_CHALLENGE_TTL", "soon")
		_, err := LoadGlobal()
		assert.Error(t, err)
	})
	t.Run("bad yaml", func(t *testing.T) {
		path := filepath.Join(home, "broken.yaml")
		require.NoError(t, os.WriteFile(path, []byte("relying_party: [unclosed"), 0600))
		_, err := Load(path)
		assert.Error(t, err)
	})
}
