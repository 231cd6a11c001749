package diskstore

import (
	"errors"

	"chunkserver/internal/status"
)

// Sentinel errors specific to the space manager; all satisfy
// errors.Is against the matching status.Code so job workers can
// translate them uniformly (internal/status.FromError).
var (
	ErrChunkNotFound = status.ErrNotFound
	ErrWrongVersion  = status.ErrWrongVersion
	ErrIOError       = status.ErrIOError
	ErrNoSpace       = status.ErrNoSpace
	ErrExists        = status.ErrExists
	ErrDiskDamaged   = errors.New("diskstore: disk is damaged")
	ErrNoDisk        = errors.New("diskstore: no disk available")
	ErrCreatorState  = errors.New("diskstore: chunk file creator used out of state order")
)
