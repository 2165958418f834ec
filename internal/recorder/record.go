package recorder

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"

	"github.com/yanun0323/errors"

	"intraday/internal/schema"
)

// On-disk record layout, little endian:
//
//	magic[4] layout[2] headerSize[2] type[2] version[2] source[2] flags[2]
//	payloadLen[4] seq[8] tsEvent[8] tsRecv[8] traceID[8] reserved[4]
//	payload[payloadLen] crc32c[4]
//
// The checksum covers the header and the payload.
const (
	layoutVersion      uint16 = 1
	recordHeaderSize          = 56
	recordChecksumSize        = 4
	segmentExt                = ".log"
)

const (
	offMagic      = 0
	offLayout     = 4
	offHeaderSize = 6
	offType       = 8
	offVersion    = 10
	offSource     = 12
	offFlags      = 14
	offPayloadLen = 16
	offSeq        = 20
	offTsEvent    = 28
	offTsRecv     = 36
	offTraceID    = 44
)

var (
	recordMagic = [4]byte{'R', 'L', 'O', 'G'}
	crcTable    = crc32.MakeTable(crc32.Castagnoli)
)

const maxPayloadLen = uint64(^uint32(0))

func putHeader(dst []byte, h schema.EventHeader, payloadLen int) {
	_ = dst[recordHeaderSize-1]
	le := binary.LittleEndian
	copy(dst[offMagic:], recordMagic[:])
	le.PutUint16(dst[offLayout:], layoutVersion)
	le.PutUint16(dst[offHeaderSize:], recordHeaderSize)
	le.PutUint16(dst[offType:], uint16(h.Type))
	le.PutUint16(dst[offVersion:], h.Version)
	le.PutUint16(dst[offSource:], h.Source)
	le.PutUint16(dst[offFlags:], h.Flags)
	le.PutUint32(dst[offPayloadLen:], uint32(payloadLen))
	le.PutUint64(dst[offSeq:], h.Seq)
	le.PutUint64(dst[offTsEvent:], uint64(h.TsEvent))
	le.PutUint64(dst[offTsRecv:], uint64(h.TsRecv))
	le.PutUint64(dst[offTraceID:], h.TraceID)
	clear(dst[offTraceID+8 : recordHeaderSize])
}

func parseHeader(src []byte) (schema.EventHeader, uint32, error) {
	if len(src) < recordHeaderSize {
		return schema.EventHeader{}, 0, ErrInvalidHeaderSize
	}
	le := binary.LittleEndian
	if !bytes.Equal(src[offMagic:offMagic+4], recordMagic[:]) {
		return schema.EventHeader{}, 0, ErrInvalidMagic
	}
	if v := le.Uint16(src[offLayout:]); v != layoutVersion {
		return schema.EventHeader{}, 0, errors.Wrapf(ErrUnsupportedLayout, "layout %d", v)
	}
	if n := le.Uint16(src[offHeaderSize:]); n != recordHeaderSize {
		return schema.EventHeader{}, 0, ErrInvalidHeaderSize
	}
	return schema.EventHeader{
		Type:    schema.EventType(le.Uint16(src[offType:])),
		Version: le.Uint16(src[offVersion:]),
		Source:  le.Uint16(src[offSource:]),
		Flags:   le.Uint16(src[offFlags:]),
		Seq:     le.Uint64(src[offSeq:]),
		TsEvent: int64(le.Uint64(src[offTsEvent:])),
		TsRecv:  int64(le.Uint64(src[offTsRecv:])),
		TraceID: le.Uint64(src[offTraceID:]),
	}, le.Uint32(src[offPayloadLen:]), nil
}

func checksum(header, payload []byte) uint32 {
	return crc32.Update(crc32.Update(0, crcTable, header), crcTable, payload)
}
