package wire

import "errors"

// ErrTruncated is returned when a buffer ends before a fixed-width field it
// is expected to hold has been fully read.
var ErrTruncated = errors.New("wire: truncated buffer")
