package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
	"github.com/grafana/pyroscope-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"intraday/internal/core"
	"intraday/internal/features"
	"intraday/internal/obs"
	"intraday/internal/ops"
	"intraday/internal/schema"
	"intraday/internal/state"
	"intraday/internal/strategy"
)

type options struct {
	configPath      string
	envPath         string
	recover         bool
	recoverDir      string
	recoverSnapshot string
}

func main() {
	var opt options
	flag.StringVar(&opt.configPath, "config", "config.yaml", "Path to YAML config")
	flag.StringVar(&opt.envPath, "env", ".env", "Optional env file with secrets")
	flag.BoolVar(&opt.recover, "recover", false, "Rebuild positions from snapshot + run log before trading")
	flag.StringVar(&opt.recoverDir, "recover-dir", "", "Run log directory for recovery (default: <wal-dir>/<run-id>)")
	flag.StringVar(&opt.recoverSnapshot, "recover-snapshot", "", "Snapshot path for recovery (default: runner.snapshot_path)")
	flag.Parse()

	if err := run(opt); err != nil {
		logs.Errorf("trader failed, err: %+v", err)
		os.Exit(1)
	}
}

func run(opt options) error {
	loaded, err := ops.Load(opt.configPath, opt.envPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-sys.Shutdown():
			logs.Info("shutdown requested, flattening")
			cancel()
		case <-ctx.Done():
		}
	}()

	if loaded.Pyroscope.Addr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: loaded.Pyroscope.App,
			ServerAddress:   loaded.Pyroscope.Addr,
			Tags:            map[string]string{"mode": loaded.Mode.String()},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			return err
		}
		defer profiler.Stop()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := obs.NewMetrics(reg)
	if loaded.Metrics.Addr != "" {
		srv := serveMetrics(loaded.Metrics.Addr, reg)
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	startedAt := time.Now().UTC()
	if loaded.Mode == schema.RunModeBacktest {
		startedAt = loaded.Strategy.Session.WarmupStart
	}
	rc, err := core.NewRunContext(loaded.Mode, loaded.TradingDay, loaded.Universe, loaded.Snapshot, startedAt)
	if err != nil {
		return err
	}
	runID := rc.Run.ID
	logDir := filepath.Join(loaded.Store.WAL.Dir, runID)

	var book *state.Book
	if opt.recover {
		book, err = recoverBook(ctx, loaded, logDir, opt)
		if err != nil {
			return err
		}
	}

	runStore, closeSinks, err := openStore(loaded, runID, logDir, metrics)
	if err != nil {
		return err
	}
	defer closeSinks()

	history, err := features.NewHistory(loaded.Features, loaded.Universe)
	if err != nil {
		return err
	}
	engine, err := strategy.NewEngine(loaded.Strategy, loaded.Allocator, loaded.Universe)
	if err != nil {
		return err
	}
	gateway, err := openGateway(loaded, runID, metrics)
	if err != nil {
		return err
	}

	runner, err := core.NewRunner(rc, loaded.Runner, core.Deps{
		Universe:  loaded.Universe,
		Allocator: loaded.Allocator,
		Engine:    engine,
		Features:  history,
		Gateway:   gateway,
		Store:     runStore,
		Book:      book,
		Metrics:   metrics,
	})
	if err != nil {
		return err
	}

	src, stopFeed, err := openSource(ctx, loaded)
	if err != nil {
		return err
	}
	result, runErr := runner.Run(ctx, src)
	stopFeed()

	closeCtx, done := context.WithTimeout(context.Background(), loaded.Runner.FinalTimeout)
	defer done()
	if err := runStore.Close(closeCtx); err != nil {
		logs.Errorf("close run store, err: %+v", err)
	}

	if out, err := sonic.ConfigStd.MarshalIndent(result, "", "  "); err == nil {
		logs.Infof("run result:\n%s", out)
	}
	return runErr
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logs.Errorf("metrics server, err: %+v", err)
		}
	}()
	logs.Infof("metrics listening on %s", addr)
	return srv
}

func recoverBook(ctx context.Context, loaded ops.Loaded, logDir string, opt options) (*state.Book, error) {
	dir := opt.recoverDir
	if dir == "" {
		dir = logDir
	}
	snapshot := opt.recoverSnapshot
	if snapshot == "" {
		snapshot = loaded.Runner.SnapshotPath
	}
	recovered, err := state.Recover(ctx, loaded.Runner.Capital, state.RecoverConfig{
		LogDir:       dir,
		SnapshotPath: snapshot,
		FilePrefix:   loaded.Store.WAL.FilePrefix,
	})
	if err != nil {
		return nil, err
	}
	logs.Infof("recovered %d open positions from %s, last seq: %d, records: %d",
		recovered.Book.OpenCount(), dir, recovered.LastSeq, recovered.Records)
	return recovered.Book, nil
}
