package recorder

import (
	"github.com/yanun0323/errors"
)

const (
	defaultSegmentMaxBytes int64 = 64 << 20
	defaultBufferSize            = 64 * 1024
	defaultFilePrefix            = "run"
)

// Config controls the run log writer.
type Config struct {
	Dir             string `yaml:"dir"`
	FilePrefix      string `yaml:"file_prefix"`
	SegmentMaxBytes int64  `yaml:"segment_max_bytes"`
	BufferSize      int    `yaml:"buffer_size"`
	// SyncOnFlush fsyncs the segment on every Flush.
	SyncOnFlush bool `yaml:"sync_on_flush"`
}

// DefaultConfig returns a baseline configuration for the writer.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:             dir,
		FilePrefix:      defaultFilePrefix,
		SegmentMaxBytes: defaultSegmentMaxBytes,
		BufferSize:      defaultBufferSize,
	}
}

func (c Config) withDefaults() Config {
	if c.SegmentMaxBytes == 0 {
		c.SegmentMaxBytes = defaultSegmentMaxBytes
	}
	if c.BufferSize == 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.FilePrefix == "" {
		c.FilePrefix = defaultFilePrefix
	}
	return c
}

// Validate checks if the configuration is usable.
func (c Config) Validate() error {
	if c.Dir == "" {
		return errors.New("invalid recorder config: dir is empty")
	}
	if c.SegmentMaxBytes <= recordHeaderSize+recordChecksumSize {
		return errors.New("invalid recorder config: segment_max_bytes too small")
	}
	if c.BufferSize <= 0 {
		return errors.New("invalid recorder config: buffer_size must be > 0")
	}
	if c.FilePrefix == "" {
		return errors.New("invalid recorder config: file_prefix is empty")
	}
	return nil
}
