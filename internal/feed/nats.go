package feed

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/nats-io/nats.go"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"intraday/internal/bus"
	"intraday/internal/schema"
	"intraday/pkg/backoff"
)

const (
	StreamName    = "BARS"
	subjectPrefix = "bars"
)

// Subject is the JetStream subject of one symbol's bars.
func Subject(tf schema.Timeframe, symbol string) string {
	return subjectPrefix + "." + string(tf) + "." + symbol
}

// EnsureStream creates the bar stream, updating it when it already exists.
func EnsureStream(js nats.JetStreamContext) error {
	cfg := &nats.StreamConfig{
		Name:       StreamName,
		Subjects:   []string{subjectPrefix + ".>"},
		Duplicates: 10 * time.Minute,
	}
	if _, err := js.AddStream(cfg); err != nil {
		if _, uerr := js.UpdateStream(cfg); uerr != nil {
			return errors.Wrapf(uerr, "create stream %s: %v", StreamName, err)
		}
	}
	return nil
}

// Publisher writes bars to JetStream. Each bar carries a message id so a
// republished bar is deduplicated by the server.
type Publisher struct {
	js nats.JetStreamContext
}

func NewPublisher(js nats.JetStreamContext) *Publisher {
	return &Publisher{js: js}
}

func (p *Publisher) Publish(ctx context.Context, bar schema.Bar) error {
	data, err := sonic.ConfigStd.Marshal(bar)
	if err != nil {
		return errors.Wrap(err, "encode bar")
	}
	msgID := bar.Symbol + "/" + string(bar.Timeframe) + "/" + bar.Time.UTC().Format(time.RFC3339)
	if _, err := p.js.Publish(Subject(bar.Timeframe, bar.Symbol), data, nats.Context(ctx), nats.MsgId(msgID)); err != nil {
		return errors.Wrap(err, "publish bar").With("msg_id", msgID)
	}
	return nil
}

// NATS consumes live bars from JetStream with a durable consumer. A full
// queue holds the delivery back instead of dropping, so per-symbol order is
// kept.
type NATS struct {
	js      nats.JetStreamContext
	durable string
	backoff backoff.Backoff
	sleeper backoff.Sleeper
}

func NewNATS(js nats.JetStreamContext, durable string) *NATS {
	return &NATS{
		js:      js,
		durable: durable,
		backoff: backoff.Backoff{Min: time.Millisecond, Max: 50 * time.Millisecond, Factor: 2},
		sleeper: backoff.RealSleeper{},
	}
}

func (n *NATS) Stream(ctx context.Context, symbols []string, tf schema.Timeframe, out *bus.Queue[schema.Bar]) error {
	want := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		want[s] = true
	}

	sub, err := n.js.Subscribe(subjectPrefix+"."+string(tf)+".*", func(msg *nats.Msg) {
		var bar schema.Bar
		if err := sonic.ConfigStd.Unmarshal(msg.Data, &bar); err != nil {
			logs.Errorf("decode bar from %s, err: %+v", msg.Subject, err)
			_ = msg.Term()
			return
		}
		if !want[bar.Symbol] {
			_ = msg.Ack()
			return
		}
		if err := n.hand(ctx, out, bar); err != nil {
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	}, nats.Durable(n.durable), nats.ManualAck(), nats.DeliverAll())
	if err != nil {
		return errors.Wrap(err, "subscribe bars")
	}
	defer func() { _ = sub.Unsubscribe() }()

	logs.Infof("streaming %d symbols from %s", len(symbols), StreamName)
	<-ctx.Done()
	return nil
}

func (n *NATS) hand(ctx context.Context, out *bus.Queue[schema.Bar], bar schema.Bar) error {
	for attempt := 1; ; attempt++ {
		err := out.TryPublish(bar)
		if !errors.Is(err, bus.ErrQueueFull) {
			return err
		}
		if err := n.sleeper.Sleep(ctx, n.backoff.Next(attempt)); err != nil {
			return err
		}
	}
}
