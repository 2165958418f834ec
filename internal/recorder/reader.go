package recorder

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/yanun0323/errors"

	"intraday/internal/schema"
)

// ReaderOptions controls record decoding.
type ReaderOptions struct {
	DisableChecksum bool
	MaxPayloadSize  int
}

// Reader decodes records sequentially from one segment.
type Reader struct {
	r       *bufio.Reader
	opts    ReaderOptions
	header  []byte
	payload []byte
}

// NewReader wraps an io.Reader with record decoding.
func NewReader(r io.Reader, opts ReaderOptions) *Reader {
	return &Reader{
		r:      bufio.NewReader(r),
		opts:   opts,
		header: make([]byte, recordHeaderSize),
	}
}

// Next returns the next record. The payload is only valid until the next
// call; io.EOF marks a clean end of segment and io.ErrUnexpectedEOF a torn
// tail.
func (r *Reader) Next() (schema.EventHeader, []byte, error) {
	if _, err := io.ReadFull(r.r, r.header); err != nil {
		return schema.EventHeader{}, nil, err
	}
	header, n, err := parseHeader(r.header)
	if err != nil {
		return header, nil, err
	}
	if r.opts.MaxPayloadSize > 0 && n > uint32(r.opts.MaxPayloadSize) {
		return header, nil, errors.Wrapf(ErrPayloadTooLarge, "seq %d payload %d", header.Seq, n)
	}

	if cap(r.payload) < int(n) {
		r.payload = make([]byte, n)
	}
	r.payload = r.payload[:n]
	if _, err := io.ReadFull(r.r, r.payload); err != nil {
		return header, nil, noEOF(err)
	}

	var sum [recordChecksumSize]byte
	if _, err := io.ReadFull(r.r, sum[:]); err != nil {
		return header, nil, noEOF(err)
	}
	if !r.opts.DisableChecksum && binary.LittleEndian.Uint32(sum[:]) != checksum(r.header, r.payload) {
		return header, nil, errors.Wrapf(ErrChecksumMismatch, "seq %d", header.Seq)
	}
	return header, r.payload, nil
}

func noEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
