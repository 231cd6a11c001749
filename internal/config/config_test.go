package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateRequiresListenAddrAndDiskRoots(t *testing.T) {
	cfg := Default()
	require.Error(t, cfg.Validate())

	cfg.ListenAddr = ":9422"
	require.Error(t, cfg.Validate())

	cfg.DiskRoots = []string{"/var/chunk0"}
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsMismatchedCapacities(t *testing.T) {
	cfg := Default()
	cfg.ListenAddr = ":9422"
	cfg.DiskRoots = []string{"/var/chunk0", "/var/chunk1"}
	cfg.DiskCapacities = []int64{1 << 30}
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsNonPositiveWorkers(t *testing.T) {
	cfg := Default()
	cfg.ListenAddr = ":9422"
	cfg.DiskRoots = []string{"/var/chunk0"}
	cfg.Workers = 0
	require.Error(t, cfg.Validate())
}

func TestDefaultFillsSpecTimeouts(t *testing.T) {
	cfg := Default()
	require.Equal(t, 4, cfg.Workers)
	require.NotZero(t, cfg.ScanThrottle)
	require.NotZero(t, cfg.ChartInterval)
	require.NotZero(t, cfg.ConnectTimeout)
	require.NotZero(t, cfg.WaveTimeout)
	require.NotZero(t, cfg.TotalTimeout)
}
