package state

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"intraday/internal/schema"
	"intraday/pkg/exception"
)

// EntryPlan carries the parameters fixed when an entry order is sized. They
// are applied on the first fill of the entry.
type EntryPlan struct {
	Stop      decimal.Decimal
	SizedQty  decimal.Decimal
	Slot      int
	TrailMode schema.TrailMode
}

// Stats is the realized performance of the book.
type Stats struct {
	RealizedPnL  decimal.Decimal
	Wins         int
	Losses       int
	MaxDrawdown  decimal.Decimal
	PeakExposure decimal.Decimal
}

// Book is the canonical position table and capital ledger of one run.
//
// The runner is its only writer. Every read returns copies.
type Book struct {
	capital   decimal.Decimal
	positions map[string]*schema.Position
	reserved  map[uint64]reservation
	addOrders map[uint64]bool

	realized     decimal.Decimal
	wins         int
	losses       int
	peakEquity   decimal.Decimal
	maxDrawdown  decimal.Decimal
	peakExposure decimal.Decimal
}

type reservation struct {
	symbol string
	amount decimal.Decimal
}

// NewBook creates an empty book with the starting capital.
func NewBook(capital decimal.Decimal) *Book {
	return &Book{
		capital:    capital,
		positions:  make(map[string]*schema.Position),
		reserved:   make(map[uint64]reservation),
		addOrders:  make(map[uint64]bool),
		peakEquity: capital,
	}
}

// Capital returns the starting capital.
func (b *Book) Capital() decimal.Decimal {
	return b.capital
}

// Deployable returns the capital the split is applied to: starting capital
// plus realized profit.
func (b *Book) Deployable() decimal.Decimal {
	return b.capital.Add(b.realized)
}

// Committed returns the cost basis of open positions plus open reservations.
func (b *Book) Committed() decimal.Decimal {
	total := decimal.Zero
	for _, symbol := range b.symbols() {
		pos := b.positions[symbol]
		total = total.Add(pos.AbsQty().Mul(pos.AvgPrice))
	}
	for _, id := range b.reservationIDs() {
		total = total.Add(b.reserved[id].amount)
	}
	return total
}

// Available returns deployable capital not yet committed.
func (b *Book) Available() decimal.Decimal {
	avail := b.Deployable().Sub(b.Committed())
	if avail.IsNegative() {
		return decimal.Zero
	}
	return avail
}

// Reserve sets capital aside for a submitted order.
func (b *Book) Reserve(orderID uint64, symbol string, amount decimal.Decimal) {
	if !amount.IsPositive() {
		return
	}
	b.reserved[orderID] = reservation{symbol: symbol, amount: amount}
}

// Release frees the capital reserved for an order. Releasing an unknown
// order is a no-op.
func (b *Book) Release(orderID uint64) decimal.Decimal {
	r, ok := b.reserved[orderID]
	if !ok {
		return decimal.Zero
	}
	delete(b.reserved, orderID)
	return r.amount
}

// Reserved returns the capital reserved for an order.
func (b *Book) Reserved(orderID uint64) decimal.Decimal {
	return b.reserved[orderID].amount
}

// ApplyFill applies a confirmed fill. Fills on the position's side open or
// grow it; fills on the opposite side reduce it, and a position reduced to
// zero is closed and removed. The returned position is the state after the
// fill, including a closed position's final realized P&L.
func (b *Book) ApplyFill(fill schema.Fill, kind schema.SignalKind, plan EntryPlan) (schema.Position, error) {
	if !fill.Qty.IsPositive() || !fill.Price.IsPositive() {
		return schema.Position{}, errors.Wrapf(exception.ErrInvalidArgument, "fill %d qty %s price %s", fill.OrderID, fill.Qty, fill.Price)
	}
	pos, open := b.positions[fill.Symbol]

	switch {
	case !open:
		if kind != schema.SignalEntry {
			return schema.Position{}, errors.Wrapf(exception.ErrNoPosition, "%s fill for %s", kind, fill.Symbol)
		}
		created, err := b.open(fill, plan)
		if err != nil {
			return schema.Position{}, err
		}
		b.consume(fill)
		return *created, nil

	case fill.Side == pos.Side:
		if !kind.Opens() {
			return schema.Position{}, errors.Wrapf(exception.ErrInvalidArgument, "%s fill on the position side for %s", kind, fill.Symbol)
		}
		next := pos.AbsQty().Add(fill.Qty)
		if pos.SizedQty.IsPositive() && next.GreaterThan(pos.SizedQty) {
			return schema.Position{}, errors.Wrapf(exception.ErrOversizedPosition, "%s qty %s over sized %s", fill.Symbol, next, pos.SizedQty)
		}
		pos.AvgPrice = pos.AvgPrice.Mul(pos.AbsQty()).Add(fill.Price.Mul(fill.Qty)).Div(next)
		pos.Qty = signed(pos.Side, next)
		switch kind {
		case schema.SignalEntry:
			pos.OriginalQty = pos.OriginalQty.Add(fill.Qty)
		case schema.SignalAdd:
			if !b.addOrders[fill.OrderID] {
				b.addOrders[fill.OrderID] = true
				pos.Adds++
			}
		}
		b.consume(fill)
		b.trackExposure()
		return *pos, nil

	default:
		if kind.Opens() {
			return schema.Position{}, errors.Wrapf(exception.ErrInvalidArgument, "%s fill against the position side for %s", kind, fill.Symbol)
		}
		if fill.Qty.GreaterThan(pos.AbsQty()) {
			return schema.Position{}, errors.Wrapf(exception.ErrOversizedPosition, "%s close %s over held %s", fill.Symbol, fill.Qty, pos.AbsQty())
		}
		pnl := fill.Price.Sub(pos.AvgPrice).Mul(fill.Qty)
		if pos.Side == schema.OrderSideSell {
			pnl = pnl.Neg()
		}
		pos.RealizedPnL = pos.RealizedPnL.Add(pnl)
		pos.Qty = signed(pos.Side, pos.AbsQty().Sub(fill.Qty))
		b.realized = b.realized.Add(pnl)
		if pos.IsOpen() {
			return *pos, nil
		}
		closed := *pos
		delete(b.positions, fill.Symbol)
		b.settle(closed)
		return closed, nil
	}
}

func (b *Book) open(fill schema.Fill, plan EntryPlan) (*schema.Position, error) {
	if fill.Side != schema.OrderSideBuy && fill.Side != schema.OrderSideSell {
		return nil, errors.Wrapf(exception.ErrInvalidArgument, "fill side %s", fill.Side)
	}
	risk := fill.Price.Sub(plan.Stop).Abs()
	if plan.Stop.IsZero() || risk.IsZero() {
		return nil, errors.Wrapf(exception.ErrInvalidStopDistance, "%s entry %s stop %s", fill.Symbol, fill.Price, plan.Stop)
	}
	pos := &schema.Position{
		Symbol:      fill.Symbol,
		Side:        fill.Side,
		Qty:         signed(fill.Side, fill.Qty),
		AvgPrice:    fill.Price,
		EntryPrice:  fill.Price,
		InitialStop: plan.Stop,
		RiskUnit:    risk,
		OriginalQty: fill.Qty,
		SizedQty:    plan.SizedQty,
		TrailMode:   plan.TrailMode,
		TrailLevel:  plan.Stop,
		HighWater:   fill.Price,
		OpenedAt:    fill.Time,
		Slot:        plan.Slot,
		RealizedPnL: decimal.Zero,
	}
	if pos.SizedQty.IsPositive() && fill.Qty.GreaterThan(pos.SizedQty) {
		return nil, errors.Wrapf(exception.ErrOversizedPosition, "%s entry %s over sized %s", fill.Symbol, fill.Qty, pos.SizedQty)
	}
	b.positions[fill.Symbol] = pos
	b.trackExposure()
	return pos, nil
}

// consume shrinks the order's reservation by the notional just filled.
func (b *Book) consume(fill schema.Fill) {
	r, ok := b.reserved[fill.OrderID]
	if !ok {
		return
	}
	r.amount = r.amount.Sub(fill.Qty.Mul(fill.Price))
	if !r.amount.IsPositive() {
		delete(b.reserved, fill.OrderID)
		return
	}
	b.reserved[fill.OrderID] = r
}

func (b *Book) settle(closed schema.Position) {
	if closed.RealizedPnL.IsPositive() {
		b.wins++
	} else {
		b.losses++
	}
	equity := b.Deployable()
	if equity.GreaterThan(b.peakEquity) {
		b.peakEquity = equity
	}
	if dd := b.peakEquity.Sub(equity); dd.GreaterThan(b.maxDrawdown) {
		b.maxDrawdown = dd
	}
}

func (b *Book) trackExposure() {
	total := decimal.Zero
	for _, pos := range b.positions {
		total = total.Add(pos.AbsQty().Mul(pos.AvgPrice))
	}
	if total.GreaterThan(b.peakExposure) {
		b.peakExposure = total
	}
}

// ApplyStop moves the stop and the price extreme of a position. The stop is
// only accepted if it tightens; a looser level is ignored.
func (b *Book) ApplyStop(symbol string, level, highWater decimal.Decimal) (bool, error) {
	pos, ok := b.positions[symbol]
	if !ok {
		return false, errors.Wrapf(exception.ErrNoPosition, "stop update for %s", symbol)
	}
	if !highWater.IsZero() {
		if pos.Side == schema.OrderSideSell {
			if pos.HighWater.IsZero() || highWater.LessThan(pos.HighWater) {
				pos.HighWater = highWater
			}
		} else if highWater.GreaterThan(pos.HighWater) {
			pos.HighWater = highWater
		}
	}
	if !pos.Tighter(level) {
		return false, nil
	}
	pos.TrailLevel = level
	return true, nil
}

// AuthorizeAdd counts an add against the position's cap.
func (b *Book) AuthorizeAdd(symbol string, maxAdds int) error {
	pos, ok := b.positions[symbol]
	if !ok {
		return errors.Wrapf(exception.ErrNoPosition, "add for %s", symbol)
	}
	if pos.AddsAuthorized >= maxAdds {
		return errors.Wrapf(exception.ErrMaxAdds, "%s has %d of %d adds", symbol, pos.AddsAuthorized, maxAdds)
	}
	pos.AddsAuthorized++
	return nil
}

// RevokeAdd returns an add authorization after its order failed before any
// fill.
func (b *Book) RevokeAdd(symbol string) {
	pos, ok := b.positions[symbol]
	if !ok || pos.AddsAuthorized <= pos.Adds {
		return
	}
	pos.AddsAuthorized--
}

// MarkRotation records a completed rotation checkpoint.
func (b *Book) MarkRotation(symbol string) {
	if pos, ok := b.positions[symbol]; ok {
		pos.RotationChecks++
	}
}

// SetPendingFlatten flags a position whose flatten order is in flight.
func (b *Book) SetPendingFlatten(symbol string, pending bool) {
	if pos, ok := b.positions[symbol]; ok {
		pos.PendingFlatten = pending
	}
}

// Position returns a copy of the open position in symbol.
func (b *Book) Position(symbol string) (schema.Position, bool) {
	pos, ok := b.positions[symbol]
	if !ok {
		return schema.Position{}, false
	}
	return *pos, true
}

// Positions returns copies of all open positions ordered by symbol.
func (b *Book) Positions() []schema.Position {
	out := make([]schema.Position, 0, len(b.positions))
	for _, symbol := range b.symbols() {
		out = append(out, *b.positions[symbol])
	}
	return out
}

// OpenCount returns the number of open positions.
func (b *Book) OpenCount() int {
	return len(b.positions)
}

// Stats returns realized performance.
func (b *Book) Stats() Stats {
	return Stats{
		RealizedPnL:  b.realized,
		Wins:         b.wins,
		Losses:       b.losses,
		MaxDrawdown:  b.maxDrawdown,
		PeakExposure: b.peakExposure,
	}
}

// Restore replaces the book contents with recovered positions and P&L.
func (b *Book) Restore(positions []schema.Position, realized decimal.Decimal) {
	b.positions = make(map[string]*schema.Position, len(positions))
	for i := range positions {
		if !positions[i].IsOpen() {
			continue
		}
		pos := positions[i]
		b.positions[pos.Symbol] = &pos
	}
	b.reserved = make(map[uint64]reservation)
	b.realized = realized
	b.peakEquity = b.Deployable()
	b.trackExposure()
}

// CheckInvariants verifies the structural invariants of every position.
func (b *Book) CheckInvariants(maxOpen, maxAdds int, now, eod time.Time) error {
	if maxOpen > 0 && len(b.positions) > maxOpen {
		return errors.Wrapf(exception.ErrConcentrationLimit, "%d open positions over %d", len(b.positions), maxOpen)
	}
	if len(b.positions) > 0 && !eod.IsZero() && now.After(eod) {
		return errors.Wrapf(exception.ErrSessionClosed, "%d positions open after %s", len(b.positions), eod.Format(time.TimeOnly))
	}
	for _, symbol := range b.symbols() {
		pos := b.positions[symbol]
		if (pos.Side == schema.OrderSideBuy) != pos.Qty.IsPositive() {
			return errors.Wrapf(exception.ErrInternal, "%s quantity %s does not match side %s", symbol, pos.Qty, pos.Side)
		}
		if pos.Adds > maxAdds || pos.AddsAuthorized > maxAdds {
			return errors.Wrapf(exception.ErrMaxAdds, "%s has %d adds", symbol, pos.Adds)
		}
		if pos.SizedQty.IsPositive() && pos.AbsQty().GreaterThan(pos.SizedQty) {
			return errors.Wrapf(exception.ErrOversizedPosition, "%s qty %s over %s", symbol, pos.AbsQty(), pos.SizedQty)
		}
	}
	return nil
}

func (b *Book) symbols() []string {
	out := make([]string, 0, len(b.positions))
	for symbol := range b.positions {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

func (b *Book) reservationIDs() []uint64 {
	out := make([]uint64, 0, len(b.reserved))
	for id := range b.reserved {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func signed(side schema.OrderSide, qty decimal.Decimal) decimal.Decimal {
	if side == schema.OrderSideSell {
		return qty.Neg()
	}
	return qty
}
