package chunkformat

import "errors"

// Sentinel errors for the chunk file format, matching the status taxonomy
// of spec.md §7. They carry no status.Code of their own: status.FromError
// maps them to EINVAL unless a caller wraps them with a Code (diskstore
// wraps a CRC mismatch with status.ErrCRCMismatch).
var (
	ErrSignatureMismatch = errors.New("chunk file: signature mismatch")
	ErrHeaderTruncated   = errors.New("chunk file: header truncated")
	ErrCRCMismatch       = errors.New("chunk file: block crc mismatch")
	ErrBlockOutOfRange   = errors.New("chunk file: block index out of range")
	ErrInvalidPartType   = errors.New("chunk file: invalid part type")
	ErrUnknownPartTypeID = errors.New("chunk file: unknown part type id")
	ErrFilenameMismatch  = errors.New("chunk file: header does not match filename")
)
