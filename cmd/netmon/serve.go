package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wardflux/netmon/pkg/alert"
	"github.com/wardflux/netmon/pkg/batch"
	"github.com/wardflux/netmon/pkg/cache"
	"github.com/wardflux/netmon/pkg/config"
	"github.com/wardflux/netmon/pkg/credential"
	"github.com/wardflux/netmon/pkg/gateway"
	"github.com/wardflux/netmon/pkg/log"
	"github.com/wardflux/netmon/pkg/metrics"
	"github.com/wardflux/netmon/pkg/probe"
	"github.com/wardflux/netmon/pkg/queue"
	"github.com/wardflux/netmon/pkg/relational"
	"github.com/wardflux/netmon/pkg/scheduler"
	"github.com/wardflux/netmon/pkg/statemachine"
	"github.com/wardflux/netmon/pkg/storage"
	"github.com/wardflux/netmon/pkg/tsdb"
	"github.com/wardflux/netmon/pkg/types"
	"github.com/wardflux/netmon/pkg/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the netmon monitoring backend",
	Long: `serve wires every component of the monitoring backend — probe
drivers, the device state machine, the alert evaluator, the scheduler,
and the priority-queue worker pools — and runs until interrupted.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("config", "netmon.yaml", "Path to the netmon YAML configuration file")
	serveCmd.Flags().String("metrics-addr", "0.0.0.0:9090", "Address for the /metrics, /health, /ready, /live HTTP server")
	serveCmd.Flags().Bool("enable-pprof", false, "Enable pprof profiling endpoints on the metrics server")
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	pprofEnabled, _ := cmd.Flags().GetBool("enable-pprof")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	metrics.SetVersion(Version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	credStore, err := newCredentialStore(cfg.Credential)
	if err != nil {
		return fmt.Errorf("build credential store: %w", err)
	}

	relStore, err := relational.Open(ctx, cfg.Relational)
	if err != nil {
		return fmt.Errorf("open relational store: %w", err)
	}
	metrics.RegisterComponent("relational", true, "connected")

	tsdbClient := tsdb.Open(cfg.TSDB)
	metrics.RegisterComponent("tsdb", true, "connected")

	readCache := cache.New(cfg.Cache)

	gw := gateway.New(relStore, tsdbClient, readCache)

	flap := statemachine.FlapThresholds{
		Window:            cfg.Flap.Window(),
		Transitions:       cfg.Flap.Transitions,
		ISPTransitions:    cfg.Flap.ISPTransitions,
		SuppressionWindow: cfg.Flap.Suppression(),
	}
	sm := statemachine.New(gw, flap, 1024)
	seed, err := relStore.EnabledDevices(ctx)
	if err != nil {
		return fmt.Errorf("load devices to seed state machine: %w", err)
	}
	sm.Load(seed)

	evaluator := alert.New(relStore, gw, cfg.Alert)
	go evaluator.Run(ctx)

	planner := batch.NewPlanner()

	boltStore, err := storage.NewBoltStore(cfg.Scheduler.StatePath)
	if err != nil {
		return fmt.Errorf("open scheduler state store: %w", err)
	}

	broker, err := queue.NewBroker(boltStore)
	if err != nil {
		return fmt.Errorf("build queue broker: %w", err)
	}

	credentialOf := func(dev types.Device) (types.SNMPCredential, bool) {
		if dev.SNMPProfileID == "" {
			return types.SNMPCredential{}, false
		}
		cred, err := relStore.Credential(ctx, dev.SNMPProfileID)
		if err != nil {
			log.WithComponent("serve").Warn().Err(err).Str("device_id", string(dev.ID)).
				Msg("failed to resolve snmp credential")
			return types.SNMPCredential{}, false
		}
		return cred, true
	}

	deviceLookup := func(lookupCtx context.Context, ids []types.DeviceID) ([]types.Device, error) {
		return relStore.DevicesByIDs(lookupCtx, ids)
	}

	probeSink := func(sinkCtx context.Context, results []types.ProbeResult) error {
		for _, r := range results {
			if _, err := sm.ProcessProbe(sinkCtx, r); err != nil {
				log.WithComponent("serve").Error().Err(err).Str("device_id", string(r.DeviceID)).
					Msg("failed to process probe result")
			}
		}
		return nil
	}

	icmpDriver := probe.NewICMPDriver(cfg.ICMP.Timeout())
	snmpDriver := probe.NewSNMPDriver(cfg.SNMP.GetTimeout(), credStore, credentialOf)
	walker := probe.NewWalker(cfg.SNMP.WalkTimeout(), credStore)

	interfaceMetricsSink := func(sample tsdb.InterfaceSample) { gw.WriteInterfaceMetrics(sample) }

	monitoringHandler := worker.ICMPBatchHandler(icmpDriver, deviceLookup, probeSink)

	snmpHandler := dispatchByKind(map[types.TaskKind]worker.Handler{
		types.TaskSNMPBatch:         worker.SNMPBatchHandler(snmpDriver, deviceLookup, probeSink),
		types.TaskInterfaceMetrics:  worker.InterfaceMetricsHandler(walker, credentialOf, deviceLookup, interfaceMetricsSink),
		types.TaskInterfaceDiscover: worker.InterfaceDiscoveryHandler(walker, credentialOf, deviceLookup, relStore),
	})

	alertsHandler := worker.AlertEvaluationHandler(evaluator)

	maintenanceHandler := dispatchByKind(map[types.TaskKind]worker.Handler{
		types.TaskCleanup: worker.CleanupHandler(gw, relStore, cfg.Retention.PingHistoryDays, time.Sunday),
		types.TaskHealthSelfCheck: worker.HealthSelfCheckHandler(map[string]worker.ComponentPinger{
			"relational": relStore,
			"tsdb":       tsdbClient,
			"cache":      readCache,
		}, metrics.RegisterComponent),
	})

	pools := []struct {
		queue types.QueueName
		pool  *worker.Pool
	}{
		{types.QueueMonitoring, worker.NewPool(types.QueueMonitoring, cfg.Worker.PoolMonitoring, cfg.Worker.TasksPerChild, cfg.Worker.DrainTimeout(), monitoringHandler)},
		{types.QueueSNMP, worker.NewPool(types.QueueSNMP, cfg.Worker.PoolSNMP, cfg.Worker.TasksPerChild, cfg.Worker.DrainTimeout(), snmpHandler)},
		{types.QueueAlerts, worker.NewPool(types.QueueAlerts, cfg.Worker.PoolAlerts, cfg.Worker.TasksPerChild, cfg.Worker.DrainTimeout(), alertsHandler)},
		{types.QueueMaintenance, worker.NewPool(types.QueueMaintenance, cfg.Worker.PoolMaintenance, cfg.Worker.TasksPerChild, cfg.Worker.DrainTimeout(), maintenanceHandler)},
	}

	var poolsWG sync.WaitGroup
	for _, entry := range pools {
		entry := entry
		poolsWG.Add(1)
		go func() {
			defer poolsWG.Done()
			entry.pool.Run(ctx, broker.Channel(entry.queue))
		}()
	}

	icmpDevices := func(devCtx context.Context) ([]types.DeviceID, error) {
		return deviceIDs(relStore.EnabledDevices(devCtx))
	}
	snmpDevices := func(devCtx context.Context) ([]types.DeviceID, error) {
		return deviceIDs(relStore.SNMPEnabledDevices(devCtx))
	}

	sched := scheduler.New(cfg, boltStore, broker, planner, icmpDevices, snmpDevices)
	var schedWG sync.WaitGroup
	schedWG.Add(1)
	go func() {
		defer schedWG.Done()
		sched.Run(ctx)
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())
	if pprofEnabled {
		mux.Handle("/debug/pprof/", http.DefaultServeMux)
	}
	metricsServer := &http.Server{Addr: metricsAddr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	fmt.Printf("✓ netmon serving\n")
	fmt.Printf("  Metrics:   http://%s/metrics\n", metricsAddr)
	fmt.Printf("  Health:    http://%s/health\n", metricsAddr)
	fmt.Printf("  Readiness: http://%s/ready\n", metricsAddr)
	if pprofEnabled {
		fmt.Printf("  Profiling: http://%s/debug/pprof/\n", metricsAddr)
	}
	fmt.Println("Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("\nShutting down...")
	case err := <-errCh:
		fmt.Fprintf(os.Stderr, "\n%v\n", err)
	}

	cancel()
	schedWG.Wait()
	poolsWG.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "metrics server shutdown: %v\n", err)
	}

	broker.Close()
	if err := boltStore.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "scheduler state close: %v\n", err)
	}
	if err := readCache.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "cache close: %v\n", err)
	}
	tsdbClient.Close()
	relStore.Close()

	fmt.Println("✓ Shutdown complete")
	return nil
}

func newCredentialStore(cfg config.Credential) (*credential.Store, error) {
	if cfg.KeyFile != "" {
		key, err := os.ReadFile(cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("read credential key file: %w", err)
		}
		return credential.NewStore(key)
	}
	return credential.NewStoreFromPassphrase(cfg.Passphrase)
}

// dispatchByKind adapts a set of per-TaskKind handlers into the single
// Handler a worker.Pool expects, for queues that carry more than one
// task kind.
func dispatchByKind(handlers map[types.TaskKind]worker.Handler) worker.Handler {
	return func(ctx context.Context, task types.Task) error {
		h, ok := handlers[task.Kind]
		if !ok {
			return fmt.Errorf("no handler registered for task kind %q", task.Kind)
		}
		return h(ctx, task)
	}
}

func deviceIDs(devices []types.Device, err error) ([]types.DeviceID, error) {
	if err != nil {
		return nil, err
	}
	ids := make([]types.DeviceID, len(devices))
	for i, d := range devices {
		ids[i] = d.ID
	}
	return ids, nil
}
