package jobpool

import (
	"errors"

	"chunkserver/internal/status"
)

var (
	ErrUnknownOp    = errors.New("jobpool: no handler registered for op")
	ErrUnknownJob   = errors.New("jobpool: job id not found")
	ErrPoolClosed   = errors.New("jobpool: pool is shut down")
	ErrNotDone      = status.ErrNotDone
	ErrInvalidInput = status.ErrInvalid
)
