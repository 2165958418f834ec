package state

import (
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"intraday/internal/schema"
)

// Snapshot captures the book at a point in session time.
type Snapshot struct {
	RunID       string            `json:"runId"`
	AsOf        time.Time         `json:"asOf"`
	LastSeq     uint64            `json:"lastSeq"`
	LastEventTs int64             `json:"lastEventTs"`
	Capital     decimal.Decimal   `json:"capital"`
	RealizedPnL decimal.Decimal   `json:"realizedPnl"`
	Positions   []schema.Position `json:"positions"`
}

// Snapshot builds a snapshot of the book.
func (b *Book) Snapshot(runID string, asOf time.Time, lastSeq uint64) Snapshot {
	return Snapshot{
		RunID:       runID,
		AsOf:        asOf,
		LastSeq:     lastSeq,
		LastEventTs: asOf.UnixNano(),
		Capital:     b.capital,
		RealizedPnL: b.realized,
		Positions:   b.Positions(),
	}
}

// WriteSnapshot writes a snapshot to disk as indented JSON.
func WriteSnapshot(path string, snapshot Snapshot) error {
	data, err := sonic.ConfigStd.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal snapshot")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadSnapshot loads a snapshot from disk.
func ReadSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := sonic.ConfigStd.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, errors.Wrapf(err, "unmarshal snapshot %s", path)
	}
	return snap, nil
}

// CompareSnapshots checks that two snapshots hold the same positions and
// realized P&L.
func CompareSnapshots(expected, actual Snapshot) error {
	if !expected.RealizedPnL.Equal(actual.RealizedPnL) {
		return errors.Errorf("snapshot realized pnl mismatch: expected=%s actual=%s", expected.RealizedPnL, actual.RealizedPnL)
	}
	if len(expected.Positions) != len(actual.Positions) {
		return errors.Errorf("snapshot length mismatch: expected=%d actual=%d", len(expected.Positions), len(actual.Positions))
	}
	want := make(map[string]schema.Position, len(expected.Positions))
	for _, pos := range expected.Positions {
		want[pos.Symbol] = pos
	}
	for _, pos := range actual.Positions {
		exp, ok := want[pos.Symbol]
		if !ok {
			return errors.Errorf("snapshot missing symbol: %s", pos.Symbol)
		}
		if !exp.Qty.Equal(pos.Qty) {
			return errors.Errorf("snapshot qty mismatch: symbol=%s expected=%s actual=%s", pos.Symbol, exp.Qty, pos.Qty)
		}
		if !exp.AvgPrice.Equal(pos.AvgPrice) {
			return errors.Errorf("snapshot avg price mismatch: symbol=%s expected=%s actual=%s", pos.Symbol, exp.AvgPrice, pos.AvgPrice)
		}
		if !exp.TrailLevel.Equal(pos.TrailLevel) {
			return errors.Errorf("snapshot stop mismatch: symbol=%s expected=%s actual=%s", pos.Symbol, exp.TrailLevel, pos.TrailLevel)
		}
	}
	return nil
}
