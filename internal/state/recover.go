package state

import (
	"context"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"intraday/internal/recorder"
	"intraday/internal/schema"
)

// RecoverConfig controls snapshot plus run log recovery.
type RecoverConfig struct {
	LogDir          string
	SnapshotPath    string
	FilePrefix      string
	DisableChecksum bool
	MaxPayloadSize  int
}

// RecoverResult contains the recovered book and log position.
type RecoverResult struct {
	Book        *Book
	LastSeq     uint64
	LastEventTs int64
	Records     int
}

// Recover loads an optional snapshot and replays the position records of the
// run log tail to rebuild the book. Each position record is the full state of
// one symbol after a fill, so the latest record per symbol wins.
func Recover(ctx context.Context, capital decimal.Decimal, cfg RecoverConfig) (RecoverResult, error) {
	if cfg.LogDir == "" {
		return RecoverResult{}, errors.New("run log dir is empty")
	}

	positions := make(map[string]schema.Position)
	realized := decimal.Zero
	var lastSeq uint64
	var lastEventTs int64

	if cfg.SnapshotPath != "" {
		snap, err := ReadSnapshot(cfg.SnapshotPath)
		if err != nil {
			return RecoverResult{}, err
		}
		for _, pos := range snap.Positions {
			positions[pos.Symbol] = pos
		}
		realized = snap.RealizedPnL
		lastSeq = snap.LastSeq
		lastEventTs = snap.LastEventTs
		if !snap.Capital.IsZero() {
			capital = snap.Capital
		}
	}

	pb, err := recorder.NewPlayback(recorder.PlaybackConfig{
		Dir:             cfg.LogDir,
		FilePrefix:      cfg.FilePrefix,
		DisableChecksum: cfg.DisableChecksum,
		MaxPayloadSize:  cfg.MaxPayloadSize,
	})
	if err != nil {
		return RecoverResult{}, err
	}

	records := 0
	err = pb.Run(ctx, func(header schema.EventHeader, payload []byte) error {
		if header.Seq <= lastSeq {
			return nil
		}
		lastSeq = header.Seq
		if header.TsEvent > lastEventTs {
			lastEventTs = header.TsEvent
		}
		if header.Type != schema.EventPosition {
			return nil
		}
		var pos schema.Position
		if err := sonic.ConfigStd.Unmarshal(payload, &pos); err != nil {
			return errors.Wrap(err, "decode position record").With("seq", header.Seq)
		}
		records++

		prev, held := positions[pos.Symbol]
		base := decimal.Zero
		if held {
			base = prev.RealizedPnL
		}
		realized = realized.Add(pos.RealizedPnL.Sub(base))
		if pos.IsOpen() {
			positions[pos.Symbol] = pos
		} else {
			delete(positions, pos.Symbol)
		}
		return nil
	})
	if err != nil {
		return RecoverResult{}, err
	}

	list := make([]schema.Position, 0, len(positions))
	for _, pos := range positions {
		list = append(list, pos)
	}
	book := NewBook(capital)
	book.Restore(list, realized)

	return RecoverResult{
		Book:        book,
		LastSeq:     lastSeq,
		LastEventTs: lastEventTs,
		Records:     records,
	}, nil
}
