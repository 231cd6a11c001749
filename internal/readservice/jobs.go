package readservice

import (
	"chunkserver/internal/chunkformat"
	"chunkserver/internal/diskstore"
	"chunkserver/internal/jobpool"
	"chunkserver/internal/status"
)

// readJobArgs is OpRead's argument type. result is a pointer the
// handler fills in on success, since jobpool.Handler only returns an
// error — the same out-parameter pattern Prefetch-adjacent callers use
// when a job's payload must travel back through the status-queue
// callback.
type readJobArgs struct {
	store   *diskstore.Store
	chunkID uint64
	version uint32
	pt      chunkformat.PartType
	offset  int64
	size    int64
	result  *[]byte
}

// RegisterHandlers binds OpRead to a local, CRC-verified chunk read
// (spec.md §4.7's "for each read_op whose PartType is local, schedule
// a READ job").
func RegisterHandlers(pool *jobpool.Pool) {
	pool.RegisterHandler(jobpool.OpRead, func(jctx *jobpool.Context, args any) error {
		a := args.(readJobArgs)
		if jctx.Disabled() {
			return status.ErrNotDone
		}
		entry, err := a.store.Open(a.chunkID, a.version, a.pt)
		if err != nil {
			return err
		}
		defer a.store.Close(entry)

		data, err := a.store.Read(entry, a.offset, int(a.size), 0, 0)
		if err != nil {
			return err
		}
		*a.result = data
		return nil
	})
}
