package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", "")
	require.NoError(t, err)

	assert.Equal(t, NetworkLocalnet, cfg.Network)
	assert.Equal(t, int64(1_000_000), cfg.Raffle.EntranceFee)
	assert.Equal(t, 30*time.Second, cfg.Raffle.Interval)
	assert.Equal(t, uint16(1), cfg.Raffle.RequestConfirmations)
	assert.Equal(t, StorageMemory, cfg.Storage.Backend)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.True(t, cfg.Keeper.Enabled)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "raffle.yaml", `
network: testnet
raffle:
  entrance_fee: 5000000
  interval: 1m
server:
  port: 9090
keeper:
  schedule: "@every 30s"
storage:
  backend: redis
  redis_addr: redis:6379
`)
	cfg, err := Load(path, "")
	require.NoError(t, err)

	assert.Equal(t, NetworkTestnet, cfg.Network)
	assert.Equal(t, int64(5_000_000), cfg.Raffle.EntranceFee)
	assert.Equal(t, time.Minute, cfg.Raffle.Interval)
	assert.Equal(t, uint16(6), cfg.Raffle.RequestConfirmations, "unset fields come from the profile")
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "@every 30s", cfg.Keeper.Schedule)
	assert.Equal(t, StorageRedis, cfg.Storage.Backend)
	assert.Equal(t, "redis:6379", cfg.Storage.RedisAddr)
	assert.Equal(t, "raffle:snapshot", cfg.Storage.RedisKey)
}

func TestLoadEnvOverridesYAML(t *testing.T) {
	path := writeFile(t, "raffle.yaml", "server:\n  port: 9090\n")
	t.Setenv("RAFFLE_PORT", "7070")
	t.Setenv("RAFFLE_INTERVAL", "45s")
	t.Setenv("RAFFLE_KEEPER_ENABLED", "false")

	cfg, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, 45*time.Second, cfg.Raffle.Interval)
	assert.False(t, cfg.Keeper.Enabled)
}

func TestLoadEnvFile(t *testing.T) {
	envPath := writeFile(t, ".env", "RAFFLE_JWT_SECRET=from-dotenv\nRAFFLE_ENTRANCE_FEE=2500000\n")
	t.Setenv("RAFFLE_JWT_SECRET", "")
	os.Unsetenv("RAFFLE_JWT_SECRET")
	t.Setenv("RAFFLE_ENTRANCE_FEE", "")
	os.Unsetenv("RAFFLE_ENTRANCE_FEE")

	cfg, err := Load("", envPath)
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Auth.JWTSecret)
	assert.Equal(t, int64(2_500_000), cfg.Raffle.EntranceFee)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"unknown network": "network: mainnet-ish\n",
		"negative fee":    "raffle:\n  entrance_fee: -1\n",
		"bad port":        "server:\n  port: 70000\n",
		"postgres no dsn": "storage:\n  backend: postgres\n",
		"unknown backend": "storage:\n  backend: etcd\n",
		"malformed yaml":  "server: [\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, "raffle.yaml", content), "")
			assert.Error(t, err)
		})
	}
}

func TestNetworkProfileApply(t *testing.T) {
	rc := Networks[NetworkTestnet].Apply(RaffleConfig{EntranceFee: 42})
	assert.Equal(t, int64(42), rc.EntranceFee)
	assert.Equal(t, 30*time.Second, rc.Interval)
	assert.NotEmpty(t, rc.KeyHash)
	assert.Equal(t, uint32(500_000), rc.CallbackGasLimit)
}

func TestLoadSampleConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "config", "raffle.yaml"), "")
	require.NoError(t, err)
	assert.Equal(t, NetworkLocalnet, cfg.Network)
	assert.Equal(t, int64(1_000_000), cfg.Raffle.EntranceFee)
	assert.Equal(t, 30*time.Second, cfg.Raffle.Interval)
	assert.Equal(t, "@every 10s", cfg.Keeper.Schedule)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.CORSOrigins)
	assert.Equal(t, StorageMemory, cfg.Storage.Backend)
}
