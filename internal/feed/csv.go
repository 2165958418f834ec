package feed

import (
	"encoding/csv"
	"io"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"intraday/internal/schema"
)

var csvHeader = []string{"time", "symbol", "timeframe", "open", "high", "low", "close", "volume"}

// LoadCSV reads a bar file. Times are RFC 3339.
func LoadCSV(path string) (*Memory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open bar file %s", path)
	}
	defer f.Close()
	bars, err := ReadCSV(f)
	if err != nil {
		return nil, errors.Wrapf(err, "read bar file %s", path)
	}
	return NewMemory(bars), nil
}

// ReadCSV decodes bars from r. The first row must be the header.
func ReadCSV(r io.Reader) ([]schema.Bar, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(csvHeader)
	cr.ReuseRecord = true

	if _, err := cr.Read(); err != nil {
		return nil, errors.Wrap(err, "read header")
	}
	var bars []schema.Bar
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			return bars, nil
		}
		if err != nil {
			return nil, err
		}
		bar, err := parseRow(rec)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		bars = append(bars, bar)
	}
}

func parseRow(rec []string) (schema.Bar, error) {
	ts, err := time.Parse(time.RFC3339, rec[0])
	if err != nil {
		return schema.Bar{}, err
	}
	var nums [5]decimal.Decimal
	for i := range nums {
		if nums[i], err = decimal.NewFromString(rec[3+i]); err != nil {
			return schema.Bar{}, errors.Wrapf(err, "column %s", csvHeader[3+i])
		}
	}
	return schema.Bar{
		Symbol:    rec[1],
		Timeframe: schema.Timeframe(rec[2]),
		Time:      ts.UTC(),
		Open:      nums[0],
		High:      nums[1],
		Low:       nums[2],
		Close:     nums[3],
		Volume:    nums[4],
	}, nil
}

// WriteCSV encodes bars in the format ReadCSV accepts.
func WriteCSV(w io.Writer, bars []schema.Bar) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, b := range bars {
		if err := cw.Write([]string{
			b.Time.UTC().Format(time.RFC3339),
			b.Symbol,
			string(b.Timeframe),
			b.Open.String(),
			b.High.String(),
			b.Low.String(),
			b.Close.String(),
			b.Volume.String(),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
