package peerstats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRegisterUnregisterCounters(t *testing.T) {
	tbl := New(nil)
	tbl.RegisterReadOp("10.0.0.1:9422")
	tbl.RegisterReadOp("10.0.0.1:9422")
	tbl.UnregisterReadOp("10.0.0.1:9422")
	require.False(t, tbl.IsDefective("10.0.0.1:9422"))

	// Unregistering past zero must not underflow.
	tbl.UnregisterReadOp("10.0.0.1:9422")
	tbl.UnregisterReadOp("10.0.0.1:9422")
	require.Equal(t, 0, tbl.entries["10.0.0.1:9422"].reads) // sanity: never negative
}

func TestMarkDefectiveExpiresAfterTimeout(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := now
	tbl := New(func() time.Time { return clock })

	tbl.MarkDefective("peer:1")
	require.True(t, tbl.IsDefective("peer:1"))

	clock = now.Add(1900 * time.Millisecond)
	require.True(t, tbl.IsDefective("peer:1"))

	clock = now.Add(2100 * time.Millisecond)
	require.False(t, tbl.IsDefective("peer:1"))
}

func TestMarkWorkingClearsDefectiveFlagEarly(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := now
	tbl := New(func() time.Time { return clock })

	tbl.MarkDefective("peer:1")
	require.True(t, tbl.IsDefective("peer:1"))

	clock = now.Add(500 * time.Millisecond)
	tbl.MarkWorking("peer:1")
	require.False(t, tbl.IsDefective("peer:1"))
}

func TestMarkWorkingOnUnknownPeerIsANoop(t *testing.T) {
	tbl := New(nil)
	tbl.MarkWorking("nobody:0")
	require.False(t, tbl.IsDefective("nobody:0"))
}

func TestIsDefectiveFalseForUnknownPeer(t *testing.T) {
	tbl := New(nil)
	require.False(t, tbl.IsDefective("nobody:0"))
}

func TestAllPendingDefectiveOnlyMarksPeersWithOutstandingOps(t *testing.T) {
	tbl := New(nil)
	tbl.RegisterReadOp("busy:1")
	tbl.RegisterWriteOp("alsoBusy:1")
	tbl.MarkDefective("idle:1") // then immediately expire it below
	tbl.entries["idle:1"].defectiveUntil = time.Time{}

	tbl.AllPendingDefective()

	require.True(t, tbl.IsDefective("busy:1"))
	require.True(t, tbl.IsDefective("alsoBusy:1"))
	require.False(t, tbl.IsDefective("idle:1"))
}

func TestSnapshotReportsCountersAndDefectiveState(t *testing.T) {
	tbl := New(nil)
	tbl.RegisterReadOp("a:1")
	tbl.RegisterReadOp("a:1")
	tbl.RegisterWriteOp("a:1")
	tbl.RegisterReadOp("b:1")
	tbl.MarkDefective("b:1")

	snap := tbl.Snapshot()
	byAddr := make(map[string]PeerSnapshot, len(snap))
	for _, s := range snap {
		byAddr[s.Addr] = s
	}

	require.Equal(t, PeerSnapshot{Addr: "a:1", Reads: 2, Writes: 1, Defective: false}, byAddr["a:1"])
	require.True(t, byAddr["b:1"].Defective)
}

func TestProxyCloseUnregistersEveryRegisteredOp(t *testing.T) {
	tbl := New(nil)
	p := NewProxy(tbl)
	p.RegisterReadOp("a:1")
	p.RegisterReadOp("a:1")
	p.RegisterWriteOp("a:1")

	require.Equal(t, 2, tbl.entries["a:1"].reads)
	require.Equal(t, 1, tbl.entries["a:1"].writes)

	p.Close()
	require.Equal(t, 0, tbl.entries["a:1"].reads)
	require.Equal(t, 0, tbl.entries["a:1"].writes)
}

func TestProxyCloseIsIdempotent(t *testing.T) {
	tbl := New(nil)
	p := NewProxy(tbl)
	p.RegisterReadOp("a:1")
	p.Close()
	require.NotPanics(t, func() { p.Close() })
	require.Equal(t, 0, tbl.entries["a:1"].reads)
}

func TestProxyAllPendingDefectiveDelegatesToTable(t *testing.T) {
	tbl := New(nil)
	p := NewProxy(tbl)
	p.RegisterReadOp("a:1")
	p.AllPendingDefective()
	require.True(t, tbl.IsDefective("a:1"))
}
