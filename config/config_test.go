package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:8645", cfg.RPCAddress)
	require.Equal(t, "./data", cfg.DataDir)
	require.Equal(t, "escrow-local", cfg.NetworkName)
	require.Equal(t, "ESCROWD_AUTH_SECRET", cfg.AuthSecretEnv)

	// The default file is written so operators can edit it.
	_, err = os.Stat(path)
	require.NoError(t, err)

	// Loading the written file round-trips.
	again, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg, again)
}

func TestLoadAppliesDefaultsToPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`RPCAddress = "0.0.0.0:9000"`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:9000", cfg.RPCAddress)
	require.Equal(t, "./data", cfg.DataDir)
	require.Equal(t, "ESCROWD_AUTH_SECRET", cfg.AuthSecretEnv)
}

func TestLoadParsesGenesis(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
DataDir = "/var/lib/escrowd"

[Genesis]
Admin = "0x00000000000000000000000000000000000000aa"
FeeBasisPoints = 250
FeeCollector = "0x00000000000000000000000000000000000000cc"

[[Genesis.Funds]]
Address = "0x0000000000000000000000000000000000000001"
Balance = "10000000000"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/var/lib/escrowd", cfg.DataDir)
	require.Equal(t, uint32(250), cfg.Genesis.FeeBasisPoints)
	require.Len(t, cfg.Genesis.Funds, 1)
	require.Equal(t, "10000000000", cfg.Genesis.Funds[0].Balance)
}

func TestLoadRejectsExcessiveGenesisFee(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
[Genesis]
Admin = "0x00000000000000000000000000000000000000aa"
FeeBasisPoints = 1001
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}
