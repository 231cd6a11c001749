// Package wiring assembles C1-C10 into one running process: the
// "event loop glue" spec.md's overview leaves to whatever embeds the
// core, since MasterConnection (the component that would normally
// hand this wiring its peer topology and replication orders) is an
// external collaborator out of this module's scope.
package wiring

import (
	"chunkserver/internal/chunkconn"
	"chunkserver/internal/chunkformat"
	"chunkserver/internal/diskstore"
	"chunkserver/internal/erasure"
	"chunkserver/internal/status"
)

// StandaloneLocator is the readservice.PartLocator used when no
// MasterConnection is wired in: it answers Availability by checking
// whether this server holds a Standard part locally, and always
// reports Locate as local. Without a master there is no peer topology
// to resolve remote parts against, so a deployment that actually needs
// XOR/EC cross-server reconstruction must supply its own PartLocator
// backed by a real MasterConnection; this is the single-node fallback
// that keeps the binary runnable on its own.
type StandaloneLocator struct {
	Store *diskstore.Store
}

func (l *StandaloneLocator) Availability(chunkID uint64, version uint32) (erasure.Available, error) {
	entry, err := l.Store.Open(chunkID, version, chunkformat.Standard())
	if err != nil {
		return erasure.Available{}, status.ErrNotFound
	}
	l.Store.Close(entry)
	return erasure.Available{Standard: true}, nil
}

func (l *StandaloneLocator) Locate(chunkID uint64, version uint32, pt chunkformat.PartType) (bool, chunkconn.NetworkAddress, error) {
	return true, chunkconn.NetworkAddress{}, nil
}
