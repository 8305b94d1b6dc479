package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	_ "go.uber.org/automaxprocs"

	"github.com/varserverd/varserver/internal/admission"
	"github.com/varserverd/varserver/internal/config"
	"github.com/varserverd/varserver/internal/engine"
	"github.com/varserverd/varserver/internal/logging"
	"github.com/varserverd/varserver/internal/metrics"
	"github.com/varserverd/varserver/internal/transport/shmdoorbell"
	"github.com/varserverd/varserver/internal/transport/tcp"
)

func main() {
	debug := flag.Bool("debug", false, "enable debug logging (overrides LOG_LEVEL)")
	flag.Parse()

	bootLog := logging.New(logging.Config{Level: "info", Format: "pretty"})

	cfg, err := config.Load(&bootLog)
	if err != nil {
		bootLog.Fatal().Err(err).Msg("failed to load configuration")
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	log := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	cfg.Log(log)
	log.Info().Int("gomaxprocs", runtime.GOMAXPROCS(0)).Msg("varserverd starting")

	guard := admission.New(admission.Config{
		MaxGoroutines:        cfg.MaxGoroutines,
		MaxRequestsPerSecond: cfg.MaxRequestsPerSecond,
		MaxConnectsPerSecond: cfg.MaxConnectsPerSecond,
		CPURejectThreshold:   cfg.CPURejectThreshold,
	}, log)

	pool := engine.NewNotifyPool(runtime.GOMAXPROCS(0)*2, 4096, log)
	pool.Start()
	defer pool.Stop()

	eng := engine.New(engine.EngineConfig{
		MaxVariables: cfg.MaxVariables,
		MaxClients:   cfg.MaxClients,
	}, log, nil)
	eng.SetNotifyDeliver(pool.Deliver(eng))

	doorbell := shmdoorbell.New(cfg.PidFile)
	if err := doorbell.Publish(); err != nil {
		log.Warn().Err(err).Msg("failed to publish pid file")
	}
	defer doorbell.Withdraw()

	srv := tcp.New(cfg.Addr(), eng, guard, 4096, log)

	sampleCtx, cancelSample := context.WithCancel(context.Background())
	go sampleLoop(sampleCtx, guard, eng, pool, cfg.MetricsInterval, log)

	go func() {
		log.Err(metrics.Serve(cfg.MetricsAddr, log)).Msg("metrics listener exited")
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("server exited with error")
		}
	}

	cancelSample()
	srv.Stop()
}

// sampleLoop periodically refreshes the admission guard's CPU sample
// and publishes engine/pool stats to Prometheus (spec.md §6 "Internal
// metrics" — these are themselves the kinds of stats the variables
// under /varserver/stats/* report).
func sampleLoop(ctx context.Context, guard *admission.Guard, eng *engine.Engine, pool *engine.NotifyPool, interval time.Duration, log zerolog.Logger) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			guard.SampleCPU(ctx)
			guard.SweepSources()
			stats := eng.Stats()
			metrics.SetBlockedClients(int(stats.Blocked))
			metrics.SetActiveClients(eng.ActiveClients())
			metrics.SetVariablesTotal(eng.VariablesTotal())
			metrics.SetTransactionsActive(eng.TransactionsActive())
			metrics.SetNotifyQueueDepth(pool.QueueDepth())
			metrics.SetNotifyDropped(pool.Dropped())
			metrics.SetCPUUsagePercent(guard.CPUPercent())
			metrics.SetMemoryUsageBytes(guard.MemoryBytes())
		case <-ctx.Done():
			return
		}
	}
}
