package wireproto

import "chunkserver/internal/status"

// ErrMalformed is returned when a frame body is truncated or otherwise
// doesn't parse, per spec.md §7's protocol/transport status kind.
var ErrMalformed = status.ErrMalformed
