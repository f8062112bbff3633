package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalsfoundry/engagement-simulator/internal/config"
	"github.com/signalsfoundry/engagement-simulator/internal/events"
	"github.com/signalsfoundry/engagement-simulator/internal/logging"
	"github.com/signalsfoundry/engagement-simulator/internal/observability"
	"github.com/signalsfoundry/engagement-simulator/internal/sim"
	"github.com/signalsfoundry/engagement-simulator/timectrl"
)

type options struct {
	scenario    string
	metricsAddr string
	eventLog    string
	duration    time.Duration
	realtime    bool
	async       bool
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("simulator", flag.ContinueOnError)
	fs.StringVar(&o.scenario, "scenario", "configs/engagement.json", "Path to a JSON engagement scenario")
	fs.StringVar(&o.metricsAddr, "metrics-addr", "", "HTTP address for Prometheus /metrics; empty disables the server")
	fs.StringVar(&o.eventLog, "events", "", "Path of a length-delimited event log to write")
	fs.DurationVar(&o.duration, "duration", 0, "Override the scenario duration")
	fs.BoolVar(&o.realtime, "realtime", false, "Pace ticks with the wall clock")
	fs.BoolVar(&o.async, "async-assignment", false, "Solve swarm assignment off the tick")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if o.scenario == "" {
		return options{}, errors.New("-scenario is required")
	}
	if o.duration < 0 {
		return options{}, fmt.Errorf("-duration %v is negative", o.duration)
	}
	return o, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	log := logging.NewFromEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, log); err != nil {
		log.Error(ctx, "simulation failed", logging.Err(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, log logging.Logger) error {
	sc, err := config.LoadScenarioFile(opts.scenario)
	if err != nil {
		return err
	}
	if opts.duration > 0 {
		sc.Simulation.Duration = opts.duration
	}

	ctx, runID := logging.EnsureRunID(ctx)
	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), observability.Run{
		ID:        runID,
		Scenario:  opts.scenario,
		Seed:      sc.Simulation.Seed,
		Launchers: len(sc.Launchers),
		Threats:   len(sc.Threats),
	}, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	collector, err := observability.NewEngagementCollector(prometheus.NewRegistry())
	if err != nil {
		return fmt.Errorf("metrics collector: %w", err)
	}
	if metricsSrv := serveMetrics(opts.metricsAddr, collector, log); metricsSrv != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}()
	}

	bus := events.NewBus()
	if opts.eventLog != "" {
		f, err := os.Create(opts.eventLog)
		if err != nil {
			return fmt.Errorf("event log: %w", err)
		}
		defer f.Close()
		rec := events.NewRecorder(f)
		defer rec.Attach(bus)()
		defer func() {
			if err := rec.Err(); err != nil {
				log.Warn(ctx, "event log incomplete", logging.String("path", opts.eventLog), logging.Err(err))
			}
		}()
	}

	engineOpts := []sim.Option{
		sim.WithLogger(log),
		sim.WithMetrics(collector),
		sim.WithBus(bus),
	}
	if opts.realtime {
		engineOpts = append(engineOpts, sim.WithMode(timectrl.RealTime))
	}
	if opts.async {
		engineOpts = append(engineOpts, sim.WithAsyncAssignment())
	}
	engine, err := sim.NewEngine(sc, engineOpts...)
	if err != nil {
		return err
	}
	defer engine.Close()

	summary, err := engine.Run(ctx)
	if errors.Is(err, context.Canceled) {
		log.Info(ctx, "simulation interrupted")
		err = nil
	}
	printSummary(os.Stdout, summary)
	return err
}

func serveMetrics(addr string, collector *observability.EngagementCollector, log logging.Logger) *http.Server {
	if addr == "" || collector == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}

func printSummary(w io.Writer, s sim.Summary) {
	fmt.Fprintf(w, "elapsed=%s threats=%d remaining=%d reached=%d\n",
		s.Elapsed, s.Threats, s.ThreatsRemaining, s.ThreatsReached)
	fmt.Fprintf(w, "released=%d hits=%d misses=%d escapes=%d evasions=%d\n",
		s.Released, s.Hits, s.Misses, s.Escapes, s.Evasions)
}
