package ospfwire

import "errors"

var (
	ErrTruncated      = errors.New("ospfwire: truncated packet")
	ErrBadChecksum    = errors.New("ospfwire: checksum mismatch")
	ErrBadVersion     = errors.New("ospfwire: unsupported version")
	ErrUnknownType    = errors.New("ospfwire: unknown packet type")
	ErrAuthNotNull    = errors.New("ospfwire: non-null authentication type not supported")
)
