package feed

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"intraday/internal/schema"
)

const barsQuery = `
	SELECT time, symbol, timeframe, open::text, high::text, low::text, close::text, volume::text
	FROM bars
	WHERE symbol = $1 AND timeframe = $2 AND time >= $3 AND time < $4
	ORDER BY time ASC`

// Postgres loads historical bars from the bars table.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) Bars(ctx context.Context, symbol string, tf schema.Timeframe, from, to time.Time) ([]schema.Bar, error) {
	rows, err := p.pool.Query(ctx, barsQuery, symbol, string(tf), from, to)
	if err != nil {
		return nil, errors.Wrapf(err, "query bars of %s", symbol)
	}
	defer rows.Close()

	var bars []schema.Bar
	for rows.Next() {
		var (
			b    schema.Bar
			tag  string
			nums [5]string
		)
		if err := rows.Scan(&b.Time, &b.Symbol, &tag, &nums[0], &nums[1], &nums[2], &nums[3], &nums[4]); err != nil {
			return nil, errors.Wrapf(err, "scan bar of %s", symbol)
		}
		b.Timeframe = schema.Timeframe(tag)
		b.Time = b.Time.UTC()
		dst := []*decimal.Decimal{&b.Open, &b.High, &b.Low, &b.Close, &b.Volume}
		for i, s := range nums {
			if *dst[i], err = decimal.NewFromString(s); err != nil {
				return nil, errors.Wrapf(err, "decode bar of %s at %s", symbol, b.Time)
			}
		}
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "iterate bars of %s", symbol)
	}
	return bars, nil
}
