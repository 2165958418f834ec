package main

import (
	"context"
	"sync"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"intraday/internal/bus"
	"intraday/internal/core"
	"intraday/internal/feed"
	"intraday/internal/obs"
	"intraday/internal/og"
	"intraday/internal/ops"
	"intraday/internal/schema"
	"intraday/internal/store"
	"intraday/pkg/backoff"
	"intraday/pkg/conn"
)

// openStore builds the sink chain named in the config. The returned func
// releases connections the sinks do not own.
func openStore(loaded ops.Loaded, runID, logDir string, metrics *obs.Metrics) (*store.Store, func(), error) {
	var (
		sinks   store.MultiSink
		closers []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	for _, name := range loaded.Store.Sinks {
		switch name {
		case ops.SinkWAL:
			walCfg := loaded.Store.WAL
			walCfg.Dir = logDir
			sink, err := store.NewWALSink(walCfg)
			if err != nil {
				closeAll()
				return nil, nil, err
			}
			sinks = append(sinks, sink)
		case ops.SinkPostgres:
			client, err := conn.New(conn.Option{ConnString: loaded.Postgres.DSN})
			if err != nil {
				closeAll()
				return nil, nil, err
			}
			closers = append(closers, func() {
				if err := client.Close(); err != nil {
					logs.Errorf("close postgres, err: %+v", err)
				}
			})
			sink, err := store.NewGormSink(client.DB(), runID)
			if err != nil {
				closeAll()
				return nil, nil, err
			}
			sinks = append(sinks, sink)
		case ops.SinkMemory:
			sinks = append(sinks, store.NewMemorySink())
		}
	}

	s, err := store.New(sinks, loaded.Store.Buffer,
		store.WithMetrics(metrics),
		store.WithTrace(obs.NewRunTraceGenerator(runID)),
	)
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	return s, closeAll, nil
}

// openGateway chains the paper venue, optional fault injection and the retry
// policy.
func openGateway(loaded ops.Loaded, runID string, metrics *obs.Metrics) (og.OrderGateway, error) {
	paperCfg := loaded.Paper
	paperCfg.Session = runID
	var gw og.OrderGateway = og.NewPaperGateway(paperCfg)

	if loaded.Gateway.Faults != nil {
		faulty, err := og.NewFaultyGateway(gw, *loaded.Gateway.Faults)
		if err != nil {
			return nil, err
		}
		gw = faulty
	}

	var sleeper backoff.Sleeper = backoff.RealSleeper{}
	if loaded.Mode == schema.RunModeBacktest {
		sleeper = backoff.NoSleep{}
	}
	retry, err := og.NewRetryGateway(gw, loaded.Gateway.Retry, sleeper)
	if err != nil {
		return nil, err
	}
	return retry.OnRetry(func(order schema.Order, attempt int, err error) {
		metrics.IncRetry()
		logs.Infof("retry order %d of %s, attempt: %d, cause: %v", order.ID, order.Symbol, attempt, err)
	}), nil
}

// openSource returns the cycle source of the configured feed. The returned
// func stops background streaming.
func openSource(ctx context.Context, loaded ops.Loaded) (core.CycleSource, func(), error) {
	session := loaded.Strategy.Session
	tf := loaded.Runner.Timeframe
	symbols := loaded.Universe.Symbols()
	noop := func() {}

	if loaded.Feed.Kind == ops.FeedNATS {
		return openLive(ctx, loaded, symbols, tf)
	}

	var (
		hist    feed.Historical
		release = noop
	)
	switch loaded.Feed.Kind {
	case ops.FeedSynthetic:
		syn, err := feed.NewSynthetic(symbols, loaded.Feed.Synthetic)
		if err != nil {
			return nil, nil, err
		}
		hist = syn
	case ops.FeedCSV:
		mem, err := feed.LoadCSV(loaded.Feed.CSVPath)
		if err != nil {
			return nil, nil, err
		}
		hist = mem
	case ops.FeedPostgres:
		pool, err := conn.NewPool(ctx, conn.Option{ConnString: loaded.Postgres.DSN})
		if err != nil {
			return nil, nil, err
		}
		hist = feed.NewPostgres(pool)
		release = pool.Close
	default:
		return nil, nil, errors.Errorf("unknown feed kind %q", loaded.Feed.Kind)
	}

	if loaded.Feed.Perturb != nil {
		perturbed, err := feed.NewPerturbed(hist, *loaded.Feed.Perturb)
		if err != nil {
			release()
			return nil, nil, err
		}
		hist = perturbed
	}

	src, err := core.LoadHistorical(ctx, hist, symbols, tf, session.WarmupStart, session.EODAt.Add(tf.Duration()))
	release()
	if err != nil {
		return nil, nil, err
	}
	logs.Infof("loaded %d cycles from %s feed", src.Len(), loaded.Feed.Kind)
	return src, noop, nil
}

func openLive(ctx context.Context, loaded ops.Loaded, symbols []string, tf schema.Timeframe) (core.CycleSource, func(), error) {
	nc, js, err := conn.NATS(loaded.Nats.URL, "intraday-trader")
	if err != nil {
		return nil, nil, err
	}
	if err := feed.EnsureStream(js); err != nil {
		nc.Close()
		return nil, nil, err
	}

	queue := bus.NewQueue[schema.Bar](loaded.Feed.QueueSize)
	streamCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer queue.Close()
		if err := feed.NewNATS(js, loaded.Feed.Durable).Stream(streamCtx, symbols, tf, queue); err != nil && streamCtx.Err() == nil {
			logs.Errorf("nats bar stream, err: %+v", err)
		}
	}()

	stop := func() {
		cancel()
		wg.Wait()
		if err := nc.Drain(); err != nil {
			logs.Errorf("drain nats, err: %+v", err)
		}
	}
	return core.NewLiveSource(queue, loaded.Feed.Grace).WithCutoff(loaded.Strategy.Session.EODAt), stop, nil
}
