package recorder

import "errors"

var (
	ErrInvalidMagic      = errors.New("run log invalid magic")
	ErrUnsupportedLayout = errors.New("run log unsupported layout")
	ErrInvalidHeaderSize = errors.New("run log invalid header size")
	ErrChecksumMismatch  = errors.New("run log checksum mismatch")
	ErrPayloadTooLarge   = errors.New("run log payload too large")
	ErrClosed            = errors.New("run log writer closed")
)
