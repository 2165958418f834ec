package recorder

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intraday/internal/schema"
)

func writeRecords(t *testing.T, cfg Config, n int) {
	t.Helper()
	w, err := NewWriter(cfg)
	require.NoError(t, err)
	base := time.Date(2024, 3, 4, 9, 15, 0, 0, time.UTC)
	for i := 1; i <= n; i++ {
		header := schema.NewHeader(schema.EventSignal, 1, uint64(i), base.Add(time.Duration(i)*time.Minute).UnixNano(), 0)
		require.NoError(t, w.Append(header, []byte{byte(i), byte(i), byte(i)}))
	}
	require.NoError(t, w.Close())
	assert.ErrorIs(t, w.Append(schema.EventHeader{}, nil), ErrClosed)
}

func TestWriterReaderRoundTrip(t *testing.T) {
	dir := t.TempDir()
	writeRecords(t, DefaultConfig(dir), 5)

	file, err := os.Open(filepath.Join(dir, "run-000001.log"))
	require.NoError(t, err)
	defer file.Close()

	r := NewReader(file, ReaderOptions{})
	for i := 1; i <= 5; i++ {
		header, payload, err := r.Next()
		require.NoError(t, err)
		assert.Equal(t, schema.EventSignal, header.Type)
		assert.Equal(t, uint64(i), header.Seq)
		assert.Equal(t, schema.SchemaVersion, header.Version)
		assert.Equal(t, []byte{byte(i), byte(i), byte(i)}, payload)
	}
	_, _, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestReaderDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	writeRecords(t, DefaultConfig(dir), 1)
	path := filepath.Join(dir, "run-000001.log")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[recordHeaderSize] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0o644))

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()
	_, _, err = NewReader(file, ReaderOptions{}).Next()
	assert.ErrorIs(t, err, ErrChecksumMismatch)

	_, err = file.Seek(0, io.SeekStart)
	require.NoError(t, err)
	_, _, err = NewReader(file, ReaderOptions{DisableChecksum: true}).Next()
	assert.NoError(t, err)
}

func TestReaderTornTail(t *testing.T) {
	dir := t.TempDir()
	writeRecords(t, DefaultConfig(dir), 2)
	path := filepath.Join(dir, "run-000001.log")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)-2], 0o644))

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()
	r := NewReader(file, ReaderOptions{})
	_, _, err = r.Next()
	require.NoError(t, err)
	_, _, err = r.Next()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestWriterRotatesSegments(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.SegmentMaxBytes = 2 * (recordHeaderSize + 3 + recordChecksumSize)
	writeRecords(t, cfg, 5)

	pb, err := NewPlayback(PlaybackConfig{Dir: dir})
	require.NoError(t, err)
	files, err := pb.Segments()
	require.NoError(t, err)
	assert.Len(t, files, 3)

	var seqs []uint64
	require.NoError(t, pb.Run(context.Background(), func(h schema.EventHeader, _ []byte) error {
		seqs = append(seqs, h.Seq)
		return nil
	}))
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, seqs)
}

type fakeClock struct {
	slept []time.Duration
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.slept = append(c.slept, d)
	return nil
}

func TestPlaybackPacesByEventTime(t *testing.T) {
	dir := t.TempDir()
	writeRecords(t, DefaultConfig(dir), 3)

	clock := &fakeClock{}
	pb, err := NewPlayback(PlaybackConfig{Dir: dir, Speed: 60})
	require.NoError(t, err)
	pb.WithClock(clock)
	require.NoError(t, pb.Run(context.Background(), func(schema.EventHeader, []byte) error { return nil }))
	assert.Equal(t, []time.Duration{time.Second, time.Second}, clock.slept)
}

func TestPlaybackConfigValidate(t *testing.T) {
	_, err := NewPlayback(PlaybackConfig{})
	assert.Error(t, err)
	_, err = NewPlayback(PlaybackConfig{Dir: "x", Speed: -1})
	assert.Error(t, err)
	_, err = NewWriter(Config{})
	assert.Error(t, err)
}
