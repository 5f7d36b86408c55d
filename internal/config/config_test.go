// File: internal/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func validChainsYAML() string {
	return `
chains:
  - chain_id: 1
    name: mainnet
    rpc_endpoints: ["http://localhost:8545"]
    bridge_contract: "0x1000000000000000000000000000000000000001"
    confirmation_blocks: 12
  - chain_id: 137
    name: polygon
    rpc_endpoints: ["http://localhost:8546"]
    layer2: true
`
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfigFile(t, validChainsYAML())

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "bridge-coordinator", cfg.App.Name)
	assert.Equal(t, "sqlite", cfg.Storage.Type)
	assert.Equal(t, 25, cfg.Storage.MaxConnections)
	assert.Equal(t, 12*time.Second, cfg.Relayer.PollInterval)
	assert.True(t, cfg.Relayer.ExponentialBackoff)
	assert.Equal(t, 2, cfg.Security.MinSignaturesRequired)
	assert.Equal(t, time.Hour, cfg.Security.SignatureTimeout)
	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, "json", cfg.Logging.Format)

	require.Len(t, cfg.Chains, 2)
	assert.Equal(t, uint64(12), cfg.Chains[0].ConfirmationBlocks)
	assert.True(t, cfg.Chains[1].Layer2)

	assert.NoError(t, cfg.Validate())
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, validChainsYAML()+`
relayer:
  poll_interval: 5s
  max_retries: 7
security:
  max_transfers_per_hour: 42
storage:
  type: postgres
  connection_string: "postgres://bridge@localhost/bridge"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.Relayer.PollInterval)
	assert.Equal(t, 7, cfg.Relayer.MaxRetries)
	assert.Equal(t, 42, cfg.Security.MaxTransfersPerHour)
	assert.Equal(t, "postgres", cfg.Storage.Type)
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	base := func() *Config {
		path := writeConfigFile(t, validChainsYAML())
		cfg, err := Load(path)
		require.NoError(t, err)
		return cfg
	}

	cfg := base()
	cfg.Chains = cfg.Chains[:1]
	assert.Error(t, cfg.Validate(), "a single chain cannot bridge")

	cfg = base()
	cfg.Chains[1].ChainID = cfg.Chains[0].ChainID
	assert.Error(t, cfg.Validate(), "duplicate chain IDs")

	cfg = base()
	cfg.Chains[0].RPCEndpoints = nil
	assert.Error(t, cfg.Validate(), "chain without endpoints")

	cfg = base()
	cfg.Storage.ConnectionString = ""
	assert.Error(t, cfg.Validate(), "missing connection string")

	cfg = base()
	cfg.Relayer.PollInterval = 0
	assert.Error(t, cfg.Validate(), "zero poll interval")

	cfg = base()
	cfg.Security.MinSignaturesRequired = 0
	assert.Error(t, cfg.Validate(), "zero signature quorum")

	cfg = base()
	cfg.Relayer.GasPriceMultiplier = 0.5
	assert.Error(t, cfg.Validate(), "gas multiplier below 1.0")
}
