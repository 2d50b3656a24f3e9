package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	wasmguard "github.com/wippyai/wasm-guard"
	"github.com/wippyai/wasm-guard/budget"
	"github.com/wippyai/wasm-guard/engine"
	"github.com/wippyai/wasm-guard/fault"
	"github.com/wippyai/wasm-guard/monitor"
	"github.com/wippyai/wasm-guard/telemetry"
)

func main() {
	var (
		configFile  = flag.String("config", "", "Path to budget config YAML (default: embedded profile)")
		wasmFile    = flag.String("wasm", "", "Path to wasm module to run under governance")
		tierName    = flag.String("tier", "qm", "Integrity tier (qm|a|b|c|d), ignored when -config is set")
		subsystem   = flag.String("subsystem", "runtime-core", "Subsystem charged for the module's memory")
		funcName    = flag.String("func", "", "Function to call (optional)")
		modeName    = flag.String("mode", "log", "Fault response mode (log|degrade|halt)")
		metricsAddr = flag.String("metrics", "", "Listen address for prometheus metrics (optional)")
		watch       = flag.Bool("watch", false, "Reload budget config on change (QM tier only)")
		interactive = flag.Bool("i", false, "Interactive dashboard with TUI")
		verbose     = flag.Bool("v", false, "Verbose logging")
	)
	flag.Parse()

	if *wasmFile == "" && !*interactive {
		fmt.Fprintln(os.Stderr, "Usage: run -wasm <file.wasm> [-config budgets.yaml] [-func name]")
		fmt.Fprintln(os.Stderr, "       run -i [-wasm <file.wasm>] [-config budgets.yaml]  (interactive dashboard)")
		os.Exit(1)
	}

	log := zap.NewNop()
	if *verbose {
		var err error
		log, err = zap.NewDevelopment()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}
	engine.SetLogger(log)

	env, err := setup(*configFile, *tierName, *modeName, *watch, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer env.close()

	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr, env.mon)
	}

	if *interactive {
		if err := runInteractive(env, *wasmFile, *subsystem); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(env, *wasmFile, *subsystem, *funcName); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// environment bundles the governance stack assembled from flags.
type environment struct {
	mon     *monitor.Monitor
	ring    *telemetry.Ring
	det     *fault.Detector
	budgets *budget.Context
	watcher *budget.Watcher
	tier    wasmguard.IntegrityTier
}

func (e *environment) close() {
	if e.watcher != nil {
		_ = e.watcher.Close()
	}
}

func setup(configFile, tierName, modeName string, watch bool, log *zap.Logger) (*environment, error) {
	mon := monitor.New()
	ring := telemetry.NewRing(telemetry.DefaultCapacity, telemetry.WithLogger(log))

	mode, err := parseMode(modeName)
	if err != nil {
		return nil, err
	}
	det := fault.New(mode,
		fault.WithMonitor(mon),
		fault.WithTelemetry(ring),
		fault.WithLogger(log))

	env := &environment{mon: mon, ring: ring, det: det}

	if configFile != "" {
		ctx, cfg, err := budget.LoadFile(configFile,
			budget.WithMonitor(mon),
			budget.WithLogger(log))
		if err != nil {
			return nil, err
		}
		env.budgets = ctx
		env.tier = cfg.IntegrityTier()
		if watch {
			w, err := budget.Watch(ctx, configFile, log)
			if err != nil {
				return nil, err
			}
			env.watcher = w
		}
		return env, nil
	}

	tier, ok := wasmguard.ParseTier(tierName)
	if !ok {
		return nil, fmt.Errorf("unknown integrity tier %q", tierName)
	}
	ctx := budget.NewContext(tier,
		budget.WithMonitor(mon),
		budget.WithLogger(log))
	if err := budget.EmbeddedProfile().Apply(ctx); err != nil {
		return nil, err
	}
	if tier.Policy().SealRequired {
		ctx.Seal()
	}
	env.budgets = ctx
	env.tier = tier
	return env, nil
}

func parseMode(name string) (fault.Mode, error) {
	switch strings.ToLower(name) {
	case "log":
		return fault.LogOnly, nil
	case "degrade":
		return fault.GracefulDegradation, nil
	case "halt":
		return fault.HaltOnFault, nil
	}
	return 0, fmt.Errorf("unknown fault response mode %q", name)
}

func serveMetrics(addr string, mon *monitor.Monitor) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(monitor.Collector(mon))
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil {
		fmt.Fprintf(os.Stderr, "metrics server: %v\n", err)
	}
}

func run(env *environment, wasmFile, subsystemName, funcName string) error {
	ctx := context.Background()

	sub, ok := wasmguard.ParseSubsystem(subsystemName)
	if !ok {
		return fmt.Errorf("unknown subsystem %q", subsystemName)
	}

	data, err := os.ReadFile(wasmFile)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	gov, err := engine.NewGovernor(ctx, env.budgets, engine.WithDetector(env.det))
	if err != nil {
		return fmt.Errorf("create governor: %w", err)
	}
	defer gov.Close(ctx)

	fmt.Printf("Module: %s\n", wasmFile)
	fmt.Printf("Tier: %s\n", env.tier)
	fmt.Printf("Subsystem: %s\n", sub)

	mod, err := gov.Load(ctx, sub, data)
	if err != nil {
		return fmt.Errorf("load module: %w", err)
	}
	defer mod.Close(ctx)

	fmt.Printf("Reserved: %d bytes\n", mod.Reserved())

	if funcName != "" {
		fmt.Printf("\nCalling %s()...\n", funcName)
		results, err := mod.Call(ctx, funcName)
		if err != nil {
			return fmt.Errorf("call %s: %w", funcName, err)
		}
		fmt.Printf("Result: %v\n", results)
	}

	printStatus(env)
	return nil
}

func printStatus(env *environment) {
	fmt.Printf("\nBudgets:\n")
	for _, st := range env.budgets.Snapshot() {
		fmt.Printf("  %-16s %10d / %10d bytes\n", st.Subsystem, st.Consumed, st.MaxBytes)
	}

	report := env.mon.Report()
	fmt.Printf("\nHealth: %d/100", report.HealthScore)
	if !env.mon.Healthy() {
		fmt.Printf("  (UNHEALTHY)")
	}
	fmt.Printf("\nAllocations: %d total, %d failed\n", report.TotalAllocations, report.FailedAllocations)
	fmt.Printf("Violations: %d budget, %d capability, %d fatal\n",
		report.BudgetViolations, report.CapabilityViolations, report.FatalErrors)
	fmt.Printf("Memory: %d current, %d peak\n", report.CurrentBytes, report.PeakBytes)

	var events []telemetry.Event
	for ev := range env.ring.Drain() {
		events = append(events, ev)
	}
	if len(events) > 0 {
		fmt.Printf("\nTelemetry (%d events):\n", len(events))
		for _, ev := range events {
			fmt.Printf("  [%s] %s %s: %s\n", ev.Severity, ev.Category, ev.Subsystem, ev.Message)
		}
	}
}
