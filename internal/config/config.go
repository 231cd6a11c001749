// Package config is the chunkserver's startup configuration: disk
// roots, worker pool sizing, and the timeouts and intervals the rest
// of the core was built to accept as Config fields. Unlike the
// teacher's control-plane ConfigStore (declarative, persisted,
// reloadable), this is data-plane process configuration loaded once at
// startup from CLI flags — closer to the server subcommand's flag
// bindings in the teacher's main.go than to its JSON config store.
package config

import (
	"errors"
	"fmt"
	"time"

	"chunkserver/internal/chunkconn"
	"chunkserver/internal/crcnotify"
	"chunkserver/internal/jobpool"
	"chunkserver/internal/replicator"
)

// Config is the chunkserver's complete startup configuration.
type Config struct {
	// ListenAddr is where the read/write/test-chunk TCP server accepts
	// connections (host:port).
	ListenAddr string

	// DiskRoots are the directories C2 treats as independent disks.
	DiskRoots []string
	// DiskCapacities optionally bounds each disk root's reported
	// capacity in bytes, same length and order as DiskRoots. A missing
	// or zero entry means "unknown capacity" (spec.md §4.2).
	DiskCapacities []int64

	// Workers is C4's worker pool size.
	Workers int
	// JobQueue is C4's bounded job queue capacity; 0 defaults to
	// 4*Workers.
	JobQueue int

	// MaxOpenFDs bounds C2's open chunk file-descriptor cache.
	MaxOpenFDs int

	// ScanThrottle paces the startup and background disk scans one
	// directory at a time (spec.md §6).
	ScanThrottle time.Duration
	// RescanInterval is how often chunktimers re-walks every disk root
	// looking for chunks written outside the normal create/write path.
	RescanInterval time.Duration
	// ChartInterval is C10's chart-rollup period (spec.md §4.10, 60s
	// default).
	ChartInterval time.Duration
	// ChartPath, if non-empty, is where the chart database is
	// periodically persisted (spec.md §6's csstats.mfs-equivalent).
	ChartPath string

	// ConnectTimeout bounds dialing another chunkserver (spec.md
	// §4.6's 1s default).
	ConnectTimeout time.Duration
	// WaveTimeout bounds one replication wave (spec.md §4.8's 500ms
	// default).
	WaveTimeout time.Duration
	// TotalTimeout bounds an entire replication attempt (spec.md
	// §4.8's 60s default).
	TotalTimeout time.Duration
}

// Default returns a Config with every timeout/interval at its spec.md
// default and zero disks — the caller must still supply ListenAddr and
// DiskRoots.
func Default() Config {
	return Config{
		Workers:        4,
		ScanThrottle:   1 * time.Second,
		RescanInterval: 10 * time.Minute,
		ChartInterval:  60 * time.Second,
		ConnectTimeout: replicator.DefaultConnectTimeout,
		WaveTimeout:    replicator.DefaultWaveTimeout,
		TotalTimeout:   replicator.DefaultTotalTimeout,
	}
}

// Validate rejects a Config that cannot start a chunkserver.
func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("config: listen address is required")
	}
	if len(c.DiskRoots) == 0 {
		return errors.New("config: at least one disk root is required")
	}
	if len(c.DiskCapacities) != 0 && len(c.DiskCapacities) != len(c.DiskRoots) {
		return fmt.Errorf("config: %d disk capacities given for %d disk roots", len(c.DiskCapacities), len(c.DiskRoots))
	}
	if c.Workers <= 0 {
		return fmt.Errorf("config: workers must be positive, got %d", c.Workers)
	}
	return nil
}

// JobPoolConfig projects the worker-pool-relevant fields.
func (c Config) JobPoolConfig() jobpool.Config {
	return jobpool.Config{Workers: c.Workers, JobQueue: c.JobQueue}
}

// ReplicatorConfig projects the replication timeout fields.
func (c Config) ReplicatorConfig(connector chunkconn.ChunkConnector) replicator.Config {
	return replicator.Config{
		Connector:      connector,
		WaveTimeout:    c.WaveTimeout,
		ConnectTimeout: c.ConnectTimeout,
		TotalTimeout:   c.TotalTimeout,
	}
}

// CRCNotifierConfig projects the wrong-CRC notifier's fields.
func (c Config) CRCNotifierConfig(connector chunkconn.ChunkConnector) crcnotify.Config {
	return crcnotify.Config{Connector: connector, ConnectTimeout: c.ConnectTimeout}
}
