package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/KafClaw/hivemind/internal/broadcast"
	"github.com/KafClaw/hivemind/internal/config"
	"github.com/KafClaw/hivemind/internal/gateway"
	"github.com/KafClaw/hivemind/internal/scheduler"
	"github.com/spf13/cobra"
)

const checkpointEvery = time.Hour

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the hook gateway and live event stream",
	Run:   runServeCmd,
}

var serveSignalNotify = signal.Notify
var serveSignalStop = signal.Stop

func runServeCmd(cmd *cobra.Command, args []string) {
	printHeader("🐝 Hivemind Gateway")

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Config error: %v\n", err)
		os.Exit(1)
	}
	setupLogging(cfg.Log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	serveSignalNotify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer serveSignalStop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("Shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	fmt.Printf("Listening on http://%s\n", cfg.Server.Addr())
	if err := serve(ctx, cfg); err != nil {
		fmt.Printf("Gateway error: %v\n", err)
		os.Exit(1)
	}
}

// serve runs the gateway, hub and background jobs until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config) error {
	rt, err := openRuntime(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			slog.Warn("Store close failed", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rt.hub.Start(ctx)
	if brokers := strings.TrimSpace(cfg.Broadcast.KafkaBrokers); brokers != "" {
		rt.hub.Add(broadcast.NewKafkaMirror(brokers, cfg.Broadcast.KafkaTopic, cfg.Broadcast.KafkaBuffer))
		slog.Info("Kafka mirror enabled", "brokers", brokers, "topic", cfg.Broadcast.KafkaTopic)
	}

	sched := newScheduler(cfg, rt)
	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		_ = sched.Run(ctx)
	}()

	srv := gateway.New(rt.ingestor, rt.hub, rt.memory, rt.store, gateway.Options{
		Version:      version,
		SSEBuffer:    cfg.Server.SSEBuffer,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	})
	err = srv.ListenAndServe(ctx, cfg.Server.Addr())

	cancel()
	<-schedDone
	rt.hub.Stop()
	return err
}

// newScheduler registers the maintenance jobs.
func newScheduler(cfg *config.Config, rt *runtime) *scheduler.Scheduler {
	sched := scheduler.New(scheduler.Config{TickInterval: cfg.Scheduler.TickInterval.Duration}, rt.store)
	sched.Register(&scheduler.Job{
		Name:  "stale-agent-sweep",
		Every: cfg.Hooks.StaleSweepInterval.Duration,
		Run: func(ctx context.Context) error {
			_, err := rt.ingestor.SweepStaleAgents(ctx)
			return err
		},
	})
	if rt.memory.EmbeddingEnabled() {
		sched.Register(&scheduler.Job{
			Name:  "embedding-backfill",
			Every: cfg.Memory.BackfillInterval.Duration,
			Run: func(ctx context.Context) error {
				n, err := rt.memory.Backfill(ctx, cfg.Memory.BackfillBatch)
				if n > 0 {
					slog.Info("Embedding backfill", "embedded", n)
				}
				return err
			},
		})
	}
	sched.Register(&scheduler.Job{
		Name:  "wal-checkpoint",
		Every: checkpointEvery,
		Run:   rt.store.Checkpoint,
	})
	return sched
}
