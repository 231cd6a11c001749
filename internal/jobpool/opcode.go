package jobpool

// OpCode identifies the kind of work a Job performs (spec.md §4.4).
type OpCode int

const (
	// OpInval always completes with status.ErrInvalid; the macro-shim
	// equivalent ("job_delete", "job_create", etc.) submits this op to
	// turn an invalid argument combination into a normal asynchronous
	// failure instead of a synchronous error return.
	OpInval OpCode = iota
	OpChunkOp
	OpOpen
	OpClose
	OpRead
	OpPrefetch
	OpWrite
	OpLegacyReplicate
	OpReplicate
	OpGetBlocks

	// opExit is never registered as a handler; it is the pool's internal
	// shutdown sentinel, enqueued exactly W times to drain W workers.
	opExit
)

func (op OpCode) String() string {
	switch op {
	case OpInval:
		return "INVAL"
	case OpChunkOp:
		return "CHUNKOP"
	case OpOpen:
		return "OPEN"
	case OpClose:
		return "CLOSE"
	case OpRead:
		return "READ"
	case OpPrefetch:
		return "PREFETCH"
	case OpWrite:
		return "WRITE"
	case OpLegacyReplicate:
		return "LEGACY_REPLICATE"
	case OpReplicate:
		return "REPLICATE"
	case OpGetBlocks:
		return "GET_BLOCKS"
	case opExit:
		return "EXIT"
	default:
		return "UNKNOWN"
	}
}
