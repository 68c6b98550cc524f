package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("should use defaults when the file is missing", func(t *testing.T) {
		// when
		cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))

		// then
		require.NoError(t, err)
		assert.Equal(t, Defaults(), cfg)
	})

	t.Run("should layer file and environment over defaults", func(t *testing.T) {
		// given
		path := filepath.Join(t.TempDir(), "application.yaml")
		content := "listen: \":9000\"\n" +
			"db:\n  driver: postgres\n  port: 6543\n" +
			"transfer:\n  progressinterval: 1s\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
		t.Setenv("BUDGETWATCH_RECEIPTS_DIR", "/srv/receipts")

		// when
		cfg, err := Load(path)

		// then
		require.NoError(t, err)
		assert.Equal(t, ":9000", cfg.Listen)
		assert.Equal(t, "postgres", cfg.Database.Driver)
		assert.Equal(t, 6543, cfg.Database.Port)
		assert.Equal(t, "budgetwatch", cfg.Database.User)
		assert.Equal(t, "/srv/receipts", cfg.Receipts.Dir)
		assert.Equal(t, time.Second, cfg.Transfer.ProgressInterval)
	})
}
