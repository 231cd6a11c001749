package wireproto

// OpType identifies a frame's message type. spec.md §6 names these
// opcodes but the retrieval pack's filtered original_source/ does not
// carry the upstream protocol's numeric packet-id assignments (only
// the serializer call sites survive filtering, in
// original_source/src/common/{cltocs,cstoma}_communication.h), so this
// module assigns its own stable, sequential ids rather than guess at
// wire-compatible numbers it cannot verify.
type OpType uint32

const (
	_ OpType = iota // 0 reserved: never a valid frame type

	OpCltocsRead
	OpCltocsWriteInit
	OpCltocsWriteData
	OpCltocsWriteEnd
	OpCltocsTestChunk

	OpCstoclReadStatus
	OpCstoclReadData
	OpCstoclWriteStatus

	OpCstomaRegisterHost
	OpCstomaRegisterChunks
	OpCstomaRegisterSpace
	OpCstomaChunkNew
	OpCstomaSetVersion
	OpCstomaDeleteChunk
	OpCstomaCreateChunk
	OpCstomaTruncate
	OpCstomaReplicate

	OpCltocsGetChunkBlocks
	OpCstoclChunkBlocks
)

func (o OpType) String() string {
	switch o {
	case OpCltocsRead:
		return "CLTOCS_READ"
	case OpCltocsWriteInit:
		return "CLTOCS_WRITE_INIT"
	case OpCltocsWriteData:
		return "CLTOCS_WRITE_DATA"
	case OpCltocsWriteEnd:
		return "CLTOCS_WRITE_END"
	case OpCltocsTestChunk:
		return "CLTOCS_TEST_CHUNK"
	case OpCstoclReadStatus:
		return "CSTOCL_READ_STATUS"
	case OpCstoclReadData:
		return "CSTOCL_READ_DATA"
	case OpCstoclWriteStatus:
		return "CSTOCL_WRITE_STATUS"
	case OpCstomaRegisterHost:
		return "CSTOMA_REGISTER_HOST"
	case OpCstomaRegisterChunks:
		return "CSTOMA_REGISTER_CHUNKS"
	case OpCstomaRegisterSpace:
		return "CSTOMA_REGISTER_SPACE"
	case OpCstomaChunkNew:
		return "CSTOMA_CHUNK_NEW"
	case OpCstomaSetVersion:
		return "CSTOMA_SET_VERSION"
	case OpCstomaDeleteChunk:
		return "CSTOMA_DELETE_CHUNK"
	case OpCstomaCreateChunk:
		return "CSTOMA_CREATE_CHUNK"
	case OpCstomaTruncate:
		return "CSTOMA_TRUNCATE"
	case OpCstomaReplicate:
		return "CSTOMA_REPLICATE"
	case OpCltocsGetChunkBlocks:
		return "CLTOCS_GET_CHUNK_BLOCKS"
	case OpCstoclChunkBlocks:
		return "CSTOCL_CHUNK_BLOCKS"
	default:
		return "UNKNOWN"
	}
}
