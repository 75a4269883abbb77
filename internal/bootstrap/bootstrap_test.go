package bootstrap

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/nexusvault/config"
	"github.com/INLOpen/nexusvault/core"
	"github.com/INLOpen/nexusvault/meta"
)

func TestExitCodes(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, 0},
		{"config", core.Errorf(core.KindConfig, "op", "bad"), 2},
		{"no_manifest", core.NewError(core.KindManifestBroken, "op", meta.ErrNoManifest), 3},
		{"broken_manifest", core.Errorf(core.KindManifestBroken, "op", "missing key"), 3},
		{"permanent", core.Errorf(core.KindRemotePermanent, "op", "403"), 4},
		{"partial", fmt.Errorf("2 of 5 files failed"), 5},
		{"other", errors.New("boom"), 5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ExitCode(tc.err))
		})
	}
}

func TestBuildWiresLocalDriver(t *testing.T) {
	cfg, err := config.Load(nil)
	require.NoError(t, err)
	cfg.Identity.AppName = "Test"
	cfg.Identity.Token = "100"
	cfg.Store.Driver = "local"
	cfg.Store.BackupLocation = "bucket"
	cfg.Store.LocalRoot = t.TempDir()

	logger, cleanup, err := BuildLogger("info", "none", "")
	require.NoError(t, err)
	defer cleanup()

	p, err := Build(cfg, logger)
	require.NoError(t, err)
	assert.NotNil(t, p.Backup)
	assert.NotNil(t, p.Restore)
	assert.NotNil(t, p.Pruner)
	assert.Equal(t, "bucket/backups/tseT/100", p.Location.TokenPrefix())
}

func TestBuildRejectsInvalidConfig(t *testing.T) {
	cfg, err := config.Load(nil)
	require.NoError(t, err)
	// Token is missing.
	cfg.Store.BackupLocation = "bucket"

	logger, cleanup, err := BuildLogger("info", "none", "")
	require.NoError(t, err)
	defer cleanup()

	_, err = Build(cfg, logger)
	require.Error(t, err)
	assert.Equal(t, 2, ExitCode(err))
}
