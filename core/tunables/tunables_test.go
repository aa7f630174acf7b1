package tunables

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoad_InvalidYAMLReturnsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tunables.yaml")
	require.NoError(t, os.WriteFile(path, []byte("router: [this is not a mapping"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_OverlaysProvidedFieldsOnTopOfDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tunables.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
router:
  surprise_threshold: 0.9
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	def := Default()
	require.Equal(t, 0.9, cfg.Router.SurpriseThreshold)
	require.Equal(t, def.Router.AgreementThreshold, cfg.Router.AgreementThreshold)
	require.Equal(t, def.Weights, cfg.Weights)
}
