package og

import (
	"context"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"intraday/internal/schema"
	"intraday/pkg/exception"
)

var paperNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("intraday/paper"))

// PaperConfig controls the simulated venue.
type PaperConfig struct {
	// Session scopes venue references so two runs never share ids.
	Session string `yaml:"session"`
	// SlippageBps moves the fill price against the order.
	SlippageBps decimal.Decimal `yaml:"slippage_bps"`
	// MaxFillQty splits fills into partial executions when positive.
	MaxFillQty decimal.Decimal `yaml:"max_fill_qty"`
}

// PaperGateway fills market orders at the last marked price. It is fully
// deterministic: fills are released in submission order on the next poll.
type PaperGateway struct {
	cfg PaperConfig

	mu        sync.Mutex
	marks     map[string]schema.Bar
	acks      map[uint64]schema.OrderAck
	pending   []schema.Order
	connected bool
}

// NewPaperGateway creates a connected paper venue.
func NewPaperGateway(cfg PaperConfig) *PaperGateway {
	if cfg.Session == "" {
		cfg.Session = "default"
	}
	return &PaperGateway{
		cfg:       cfg,
		marks:     make(map[string]schema.Bar),
		acks:      make(map[uint64]schema.OrderAck),
		connected: true,
	}
}

// Mark records the latest bar of a symbol.
func (g *PaperGateway) Mark(bar schema.Bar) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.marks[bar.Symbol] = bar
}

// Submit accepts an order. Resubmitting a known order id returns the first
// answer, so a retry after a lost response never double fills.
func (g *PaperGateway) Submit(ctx context.Context, order schema.Order) (schema.OrderAck, error) {
	if err := ctx.Err(); err != nil {
		return schema.OrderAck{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.connected {
		return schema.OrderAck{}, errors.Wrap(exception.ErrOrderTransient, "paper venue disconnected")
	}
	if ack, ok := g.acks[order.ID]; ok {
		return ack, nil
	}

	ack := schema.OrderAck{OrderID: order.ID, VenueRef: g.venueRef(order.ID)}
	switch {
	case !order.Qty.IsPositive():
		ack.Status, ack.Reason = schema.OrderStatusRejected, "non-positive quantity"
	case order.Type == schema.OrderTypeLimit && !order.Price.IsPositive():
		ack.Status, ack.Reason = schema.OrderStatusRejected, "limit order without price"
	default:
		if _, ok := g.marks[order.Symbol]; !ok {
			ack.Status, ack.Reason = schema.OrderStatusRejected, "no market for symbol"
			break
		}
		ack.Status = schema.OrderStatusSubmitted
		g.pending = append(g.pending, order)
	}
	g.acks[order.ID] = ack
	return ack, nil
}

// Cancel removes an order whose fill has not been released yet.
func (g *PaperGateway) Cancel(ctx context.Context, orderID uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.acks[orderID]; !ok {
		return errors.Wrapf(exception.ErrOrderUnknown, "order %d", orderID)
	}
	for i, o := range g.pending {
		if o.ID == orderID {
			g.pending = append(g.pending[:i], g.pending[i+1:]...)
			return nil
		}
	}
	return nil
}

// PollFills releases fills for all accepted orders.
func (g *PaperGateway) PollFills(ctx context.Context) ([]schema.Fill, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.connected {
		return nil, errors.Wrap(exception.ErrOrderTransient, "paper venue disconnected")
	}

	var fills []schema.Fill
	for _, o := range g.pending {
		bar := g.marks[o.Symbol]
		price := g.fillPrice(o, bar.Close)
		remaining := o.Qty
		for n := 1; remaining.IsPositive(); n++ {
			qty := remaining
			if g.cfg.MaxFillQty.IsPositive() && qty.GreaterThan(g.cfg.MaxFillQty) {
				qty = g.cfg.MaxFillQty
			}
			fills = append(fills, schema.Fill{
				ExecID:  g.venueRef(o.ID) + "-" + strconv.Itoa(n),
				OrderID: o.ID,
				Symbol:  o.Symbol,
				Side:    o.Side,
				Price:   price,
				Qty:     qty,
				Time:    bar.Time,
			})
			remaining = remaining.Sub(qty)
		}
	}
	g.pending = g.pending[:0]
	return fills, nil
}

// Disconnect makes every call fail with a transient error.
func (g *PaperGateway) Disconnect() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.connected = false
}

// Reconnect restores the venue.
func (g *PaperGateway) Reconnect() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.connected = true
}

func (g *PaperGateway) fillPrice(o schema.Order, mark decimal.Decimal) decimal.Decimal {
	if o.Type == schema.OrderTypeLimit && o.Price.IsPositive() {
		return o.Price
	}
	if !g.cfg.SlippageBps.IsPositive() {
		return mark
	}
	slip := mark.Mul(g.cfg.SlippageBps).Div(decimal.NewFromInt(10000))
	if o.Side == schema.OrderSideSell {
		return mark.Sub(slip)
	}
	return mark.Add(slip)
}

func (g *PaperGateway) venueRef(orderID uint64) string {
	return uuid.NewSHA1(paperNamespace, []byte(g.cfg.Session+"/"+strconv.FormatUint(orderID, 10))).String()
}
