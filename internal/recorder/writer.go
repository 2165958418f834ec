package recorder

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/yanun0323/errors"

	"intraday/internal/schema"
)

// Writer appends records to numbered segment files. Appends are synchronous;
// callers that must not block put a queue in front of it.
type Writer struct {
	cfg Config

	mu       sync.Mutex
	seg      *segment
	segIndex int
	header   []byte
	closed   bool
	records  uint64
}

type segment struct {
	file *os.File
	buf  *bufio.Writer
	size int64
}

// NewWriter creates a writer and ensures the target directory exists.
func NewWriter(cfg Config) (*Writer, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create run log dir %s", cfg.Dir)
	}
	return &Writer{
		cfg:    cfg,
		header: make([]byte, recordHeaderSize),
	}, nil
}

// Append writes one record.
func (w *Writer) Append(header schema.EventHeader, payload []byte) error {
	if uint64(len(payload)) > maxPayloadLen {
		return ErrPayloadTooLarge
	}
	if header.Version == 0 {
		header.Version = schema.SchemaVersion
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}

	size := int64(recordHeaderSize + len(payload) + recordChecksumSize)
	if w.seg == nil || (w.seg.size > 0 && w.seg.size+size > w.cfg.SegmentMaxBytes) {
		if err := w.rotate(); err != nil {
			return err
		}
	}

	putHeader(w.header, header, len(payload))
	var sum [recordChecksumSize]byte
	binary.LittleEndian.PutUint32(sum[:], checksum(w.header, payload))

	for _, part := range [][]byte{w.header, payload, sum[:]} {
		if len(part) == 0 {
			continue
		}
		if _, err := w.seg.buf.Write(part); err != nil {
			return errors.Wrap(err, "write run log record")
		}
	}
	w.seg.size += size
	w.records++
	return nil
}

// Flush pushes buffered records to the file.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.seg == nil {
		return nil
	}
	if err := w.seg.buf.Flush(); err != nil {
		return err
	}
	if w.cfg.SyncOnFlush {
		return w.seg.file.Sync()
	}
	return nil
}

// Records returns the number of records appended.
func (w *Writer) Records() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.records
}

// Close flushes, syncs and closes the current segment.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return closeSegment(w.seg)
}

func (w *Writer) rotate() error {
	if err := closeSegment(w.seg); err != nil {
		return err
	}
	w.seg = nil
	for {
		w.segIndex++
		path := filepath.Join(w.cfg.Dir, segmentName(w.cfg.FilePrefix, w.segIndex))
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return errors.Wrapf(err, "open segment %s", path)
		}
		w.seg = &segment{file: file, buf: bufio.NewWriterSize(file, w.cfg.BufferSize)}
		return nil
	}
}

func closeSegment(seg *segment) error {
	if seg == nil {
		return nil
	}
	if err := seg.buf.Flush(); err != nil {
		_ = seg.file.Close()
		return err
	}
	if err := seg.file.Sync(); err != nil {
		_ = seg.file.Close()
		return err
	}
	return seg.file.Close()
}

func segmentName(prefix string, index int) string {
	return fmt.Sprintf("%s-%06d%s", prefix, index, segmentExt)
}
