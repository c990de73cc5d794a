package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_AppliesDefaultsAndOverrides(t *testing.T) {
	path := writeConfig(t, `
chain:
  chain_id: 1
  rpc_endpoints:
    - http://localhost:8545
api:
  enabled: false
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, uint64(1), cfg.Chain.ChainID)
	require.False(t, cfg.API.Enabled)
	require.Equal(t, ":8081", cfg.API.ListenAddr) // untouched default survives the partial override
	require.Equal(t, "local", cfg.Signer.Kind)
	require.Equal(t, 9091, cfg.Metrics.Port)
}

func TestLoad_MissingRPCEndpointsFailsValidation(t *testing.T) {
	path := writeConfig(t, `
chain:
  chain_id: 1
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_KeystorePassFallsBackToEnv(t *testing.T) {
	path := writeConfig(t, `
chain:
  chain_id: 1
  rpc_endpoints: [http://localhost:8545]
`)
	t.Setenv("IR_SIGNER_KEYSTORE_PASS", "secret")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "secret", cfg.Signer.KeystorePass)
}

func TestValidate_RejectsUnknownSignerKind(t *testing.T) {
	cfg := Default()
	cfg.Signer.Kind = "hsm"
	require.Error(t, cfg.Validate())
}

func TestValidate_RejectsOutOfRangeMetricsPortWhenEnabled(t *testing.T) {
	cfg := Default()
	cfg.Metrics.Port = 0
	require.Error(t, cfg.Validate())

	cfg.Metrics.Enabled = false
	require.NoError(t, cfg.Validate())
}

func TestValidate_RejectsEmptyAPIListenAddrWhenEnabled(t *testing.T) {
	cfg := Default()
	cfg.API.ListenAddr = ""
	require.Error(t, cfg.Validate())

	cfg.API.Enabled = false
	require.NoError(t, cfg.Validate())
}

func TestDefault_PassesItsOwnValidation(t *testing.T) {
	require.NoError(t, Default().Validate())
}
