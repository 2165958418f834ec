package feed

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intraday/internal/bus"
	"intraday/internal/chaos"
	"intraday/internal/schema"
)

var open = time.Date(2024, 3, 4, 9, 15, 0, 0, time.UTC)

func bar(symbol string, minute int, close string) schema.Bar {
	c := decimal.RequireFromString(close)
	return schema.Bar{
		Symbol:    symbol,
		Timeframe: schema.Timeframe1m,
		Time:      open.Add(time.Duration(minute) * time.Minute),
		Open:      c,
		High:      c,
		Low:       c,
		Close:     c,
		Volume:    decimal.NewFromInt(100),
	}
}

func TestMemoryBarsWindow(t *testing.T) {
	m := NewMemory([]schema.Bar{bar("AAA", 0, "10"), bar("AAA", 1, "11"), bar("AAA", 2, "12"), bar("BBB", 0, "20")})
	assert.Equal(t, []string{"AAA", "BBB"}, m.Symbols())

	bars, err := m.Bars(context.Background(), "AAA", schema.Timeframe1m, open.Add(time.Minute), open.Add(2*time.Minute))
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, "11", bars[0].Close.String())

	bars, err = m.Bars(context.Background(), "AAA", schema.Timeframe5m, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, bars)
}

func TestMemoryStreamMergesByTime(t *testing.T) {
	m := NewMemory([]schema.Bar{bar("BBB", 1, "21"), bar("AAA", 0, "10"), bar("BBB", 0, "20"), bar("AAA", 1, "11")})
	q := bus.NewQueue[schema.Bar](8)
	require.NoError(t, m.Stream(context.Background(), []string{"BBB", "AAA"}, schema.Timeframe1m, q))

	var got []string
	for _, b := range q.Drain(0) {
		got = append(got, b.Symbol+b.Close.String())
	}
	assert.Equal(t, []string{"AAA10", "BBB20", "AAA11", "BBB21"}, got)

	small := bus.NewQueue[schema.Bar](1)
	assert.ErrorIs(t, m.Stream(context.Background(), []string{"AAA"}, schema.Timeframe1m, small), bus.ErrQueueFull)
}

func TestCSV(t *testing.T) {
	var buf bytes.Buffer
	in := []schema.Bar{bar("AAA", 0, "10.5"), bar("BBB", 0, "20.25")}
	require.NoError(t, WriteCSV(&buf, in))
	assert.True(t, strings.HasPrefix(buf.String(), "time,symbol,timeframe,open,high,low,close,volume\n"))

	out, err := ReadCSV(&buf)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.True(t, in[1].Close.Equal(out[1].Close))
	assert.Equal(t, in[0].Time, out[0].Time)

	_, err = ReadCSV(strings.NewReader("time,symbol,timeframe,open,high,low,close,volume\nnot-a-time,AAA,1m,1,1,1,1,1\n"))
	assert.Error(t, err)

	_, err = ReadCSV(strings.NewReader("time,symbol,timeframe,open,high,low,close,volume\n2024-03-04T09:15:00Z,AAA,1m,1,x,1,1,1\n"))
	assert.Error(t, err)
}

func TestSyntheticIsDeterministic(t *testing.T) {
	symbols := []string{"AAA", "BBB"}
	a, err := NewSynthetic(symbols, SyntheticConfig{Seed: 7})
	require.NoError(t, err)
	b, err := NewSynthetic(symbols, SyntheticConfig{Seed: 7})
	require.NoError(t, err)

	ctx := context.Background()
	to := open.Add(90 * time.Minute)
	x, err := a.Bars(ctx, "AAA", schema.Timeframe1m, open, to)
	require.NoError(t, err)
	y, err := b.Bars(ctx, "AAA", schema.Timeframe1m, open, to)
	require.NoError(t, err)
	require.Len(t, x, 90)
	assert.Equal(t, x, y)

	for i, bar := range x {
		assert.True(t, bar.Valid(), "bar %d: %+v", i, bar)
		assert.Equal(t, open.Add(time.Duration(i)*time.Minute), bar.Time)
	}

	other, err := b.Bars(ctx, "BBB", schema.Timeframe1m, open, to)
	require.NoError(t, err)
	assert.NotEqual(t, x[10].Close.String(), other[10].Close.String())

	none, err := a.Bars(ctx, "ZZZ", schema.Timeframe1m, open, to)
	require.NoError(t, err)
	assert.Empty(t, none)

	session, err := a.Session(ctx, schema.Timeframe1m, open, open.Add(3*time.Minute))
	require.NoError(t, err)
	require.Len(t, session, 6)
	assert.Equal(t, "AAA", session[0].Symbol)
	assert.Equal(t, "BBB", session[1].Symbol)
}

func TestPerturbedDuplicates(t *testing.T) {
	m := NewMemory([]schema.Bar{bar("AAA", 0, "10"), bar("AAA", 1, "11"), bar("AAA", 2, "12")})
	p, err := NewPerturbed(m, chaos.Config{Seed: 3, DuplicateRate: 1})
	require.NoError(t, err)

	bars, err := p.Bars(context.Background(), "AAA", schema.Timeframe1m, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, bars, 6)
	assert.Equal(t, bars[0], bars[1])

	_, err = NewPerturbed(m, chaos.Config{DropRate: 2})
	assert.Error(t, err)
}
