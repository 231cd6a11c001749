package chunktimers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chunkserver/internal/chunkformat"
	"chunkserver/internal/diskstore"
	"chunkserver/internal/peerstats"
)

func TestTimersRollupChartSamplesDiskAndPeerState(t *testing.T) {
	dir := t.TempDir()
	store := diskstore.New(diskstore.Config{DiskRoots: []string{dir}, Now: time.Now})
	peers := peerstats.New(nil)
	peers.MarkDefective("bad-peer:9422")

	timers, err := New(Config{
		Store:          store,
		Peers:          peers,
		ChartInterval:  30 * time.Millisecond,
		RescanInterval: time.Hour,
		SweepInterval:  time.Hour,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, timers.Start(ctx))
	t.Cleanup(func() { _ = timers.Stop() })

	require.Eventually(t, func() bool {
		return len(timers.Chart().Samples()) > 0
	}, 2*time.Second, 10*time.Millisecond)

	sample := timers.Chart().Samples()[0]
	require.Equal(t, 1, sample.DefectivePeers)
	require.Equal(t, 0, sample.DamagedDisks)
}

func TestTimersRescanPicksUpChunksWrittenOutsideTheStore(t *testing.T) {
	dir := t.TempDir()
	writer := diskstore.New(diskstore.Config{DiskRoots: []string{dir}, Now: time.Now})
	pt := chunkformat.Standard()
	creator, err := writer.CreateChunk(42, 1, pt)
	require.NoError(t, err)
	require.NoError(t, creator.Commit())

	fresh := diskstore.New(diskstore.Config{DiskRoots: []string{dir}, Now: time.Now})
	_, err = fresh.Open(42, 1, pt)
	require.Error(t, err, "fresh store has not scanned the disk yet")

	timers, err := New(Config{
		Store:          fresh,
		ChartInterval:  time.Hour,
		RescanInterval: 20 * time.Millisecond,
		ScanThrottle:   0,
		SweepInterval:  time.Hour,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, timers.Start(ctx))
	t.Cleanup(func() { _ = timers.Stop() })

	require.Eventually(t, func() bool {
		_, err := fresh.Open(42, 1, pt)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTimersDefaultsFillZeroIntervals(t *testing.T) {
	timers, err := New(Config{})
	require.NoError(t, err)
	require.Equal(t, DefaultChartInterval, timers.chartInterval)
	require.Equal(t, DefaultRescanInterval, timers.rescanInterval)
	require.Equal(t, DefaultScanThrottle, timers.scanThrottle)
	require.Equal(t, DefaultSweepInterval, timers.sweepInterval)
}
