package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jedarden/forge/pkg/config"
	"github.com/jedarden/forge/pkg/cost"
	"github.com/jedarden/forge/pkg/driver"
	"github.com/jedarden/forge/pkg/health"
	"github.com/jedarden/forge/pkg/issuestore"
	"github.com/jedarden/forge/pkg/log"
	"github.com/jedarden/forge/pkg/memory"
	"github.com/jedarden/forge/pkg/metrics"
	"github.com/jedarden/forge/pkg/procprobe"
	"github.com/jedarden/forge/pkg/recovery"
	"github.com/jedarden/forge/pkg/status"
	"github.com/jedarden/forge/pkg/stuck"
	"github.com/jedarden/forge/pkg/subscription"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the FORGE core: driver loop, metrics endpoint, auto-recovery",
	RunE: func(cmd *cobra.Command, _ []string) error {
		path, home, err := configPath()
		if err != nil {
			return fmt.Errorf("resolve home directory: %w", err)
		}
		cfg, err := config.Load(path, home)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		if err := os.MkdirAll(cfg.Paths.StatusDir, 0o755); err != nil {
			return fmt.Errorf("create status dir: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(cfg.Paths.CostDB), 0o755); err != nil {
			return fmt.Errorf("create cost db dir: %w", err)
		}

		statusStore, err := status.NewStore(cfg.Paths.StatusDir)
		if err != nil {
			return fmt.Errorf("open status store: %w", err)
		}

		db, err := cost.Open(cfg.Paths.CostDB)
		if err != nil {
			return fmt.Errorf("open cost store: %w", err)
		}
		defer db.Close()

		recoveryStorePath := filepath.Join(filepath.Dir(cfg.Paths.CostDB), "recovery.db")
		recoveryStore, err := recovery.OpenStore(recoveryStorePath)
		if err != nil {
			return fmt.Errorf("open recovery store: %w", err)
		}
		defer recoveryStore.Close()

		issues := issuestore.NewAdapter(issuestore.DefaultConfig())
		probe := procprobe.NewProbe()

		memWarnBytes := cfg.Recovery.MemoryThresholdMB * 1024 * 1024
		memKillBytes := cfg.Recovery.MemoryKillThresholdMB * 1024 * 1024
		memMonitor := memory.NewMonitor(memory.DefaultConfig(memWarnBytes, memKillBytes), probe)

		healthMonitor := health.NewMonitor(health.DefaultConfig(), probe, memMonitor, issues)
		stuckDetector := stuck.NewDetector(cfg.StuckDetectorConfig(), issues)
		subs := subscription.NewTracker(db)

		recMgr, err := recovery.NewManager(cfg.Recovery, healthMonitor, memMonitor, stuckDetector, statusStore, issues, probe, recoveryStore)
		if err != nil {
			return fmt.Errorf("construct recovery manager: %w", err)
		}

		logger := log.WithComponent("forged")

		jobs := []driver.Job{
			{Name: "status_poll", Interval: cfg.Cadences.StatusPoll, Run: func(ctx context.Context) error {
				return pollStatus(statusStore)
			}},
			{Name: "issue_store_poll", Interval: cfg.Cadences.IssueStorePoll, Run: func(ctx context.Context) error {
				return pollIssues(ctx, issues, cfg.Workspaces)
			}},
			{Name: "tmux_discovery", Interval: cfg.Cadences.TmuxDiscovery, Run: func(ctx context.Context) error {
				return discoverTmux(statusStore, probe)
			}},
			{Name: "cost_reaggregation", Interval: cfg.Cadences.CostReaggregation, Run: func(ctx context.Context) error {
				return reaggregateCost(db)
			}},
			{Name: "subscription_poll", Interval: cfg.Cadences.SubscriptionPoll, Run: func(ctx context.Context) error {
				return pollSubscriptions(subs)
			}},
			{Name: "health_check", Interval: cfg.Cadences.HealthCheck, Run: func(ctx context.Context) error {
				return runHealthCheck(statusStore, healthMonitor)
			}},
			{Name: "recovery_cycle", Interval: cfg.Cadences.RecoveryCheck, Run: func(ctx context.Context) error {
				return runRecoveryCycle(ctx, recMgr)
			}},
		}

		d := driver.New(jobs)
		d.Start()
		logger.Info().Int("jobs", len(jobs)).Msg("driver started")

		metricsAddr := "127.0.0.1:9090"
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("metrics server error")
			}
		}()
		logger.Info().Str("addr", metricsAddr).Msg("metrics endpoint listening")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		d.Stop()
		logger.Info().Msg("shutdown complete")
		return nil
	},
}

func pollStatus(store *status.Store) error {
	workers, err := store.ReadAll()
	if err != nil {
		return err
	}
	metrics.WorkersTotal.Reset()
	counts := map[string]int{}
	for _, w := range workers {
		counts[string(w.Status)]++
	}
	for s, n := range counts {
		metrics.WorkersTotal.WithLabelValues(s).Set(float64(n))
	}
	return nil
}

func pollIssues(ctx context.Context, issues *issuestore.Adapter, workspaces []string) error {
	for _, ws := range workspaces {
		stats, err := issues.Stats(ctx, ws)
		if err != nil {
			log.WithComponent("forged").Warn().Str("workspace", ws).Err(err).Msg("issue store stats failed")
			continue
		}
		for st, v := range stats {
			if n, ok := v.(float64); ok {
				metrics.IssuesTotal.WithLabelValues(ws, st).Set(n)
			}
		}
	}
	return nil
}

func discoverTmux(store *status.Store, probe *procprobe.Probe) error {
	workers, err := store.ReadAll()
	if err != nil {
		return err
	}
	for _, w := range workers {
		if !w.IsHealthy() {
			continue
		}
		if !probe.TmuxSessionExists(w.WorkerID) {
			log.WithWorker(w.WorkerID).Warn().Msg("tmux session no longer exists")
		}
	}
	return nil
}

func reaggregateCost(db *cost.DB) error {
	now := time.Now()
	today := now.Format("2006-01-02")
	yesterday := now.AddDate(0, 0, -1).Format("2006-01-02")
	if err := db.Reaggregate(yesterday); err != nil {
		return fmt.Errorf("reaggregate %s: %w", yesterday, err)
	}
	if err := db.Reaggregate(today); err != nil {
		return fmt.Errorf("reaggregate %s: %w", today, err)
	}
	return nil
}

func pollSubscriptions(subs *subscription.Tracker) error {
	statuses, err := subs.Statuses()
	if err != nil {
		return err
	}
	for _, s := range statuses {
		metrics.SubscriptionUsagePercent.WithLabelValues(s.Name).Set(s.UsagePercentage)
		if s.Urgent {
			log.WithComponent("forged").Warn().Str("subscription", s.Name).Str("pace", string(s.Pace)).Msg("subscription pace needs attention")
		}
	}
	return nil
}

func runHealthCheck(store *status.Store, monitor *health.Monitor) error {
	workers, err := store.ReadAll()
	if err != nil {
		return err
	}
	verdicts := monitor.CheckAll(workers)
	metrics.WorkerHealthLevel.Reset()
	for i, w := range workers {
		if i >= len(verdicts) {
			break
		}
		metrics.WorkerHealthLevel.WithLabelValues(w.WorkerID, string(verdicts[i].Level)).Set(1)
	}
	return nil
}

func runRecoveryCycle(ctx context.Context, mgr *recovery.Manager) error {
	actions, err := mgr.CheckAndRecover(ctx)
	if err != nil {
		return err
	}
	for _, a := range actions {
		metrics.RecoveryActionsTotal.WithLabelValues(string(a.Type)).Inc()
		log.WithComponent("forged").Info().Str("action", string(a.Type)).Str("target", a.Target).Msg("recovery action taken")
	}
	return nil
}
