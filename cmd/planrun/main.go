// Command planrun validates and executes plan documents.
//
//	planrun validate <plan.{json,yaml,yml}>
//	planrun run [-db path] [-pool n] <plan.{json,yaml,yml}>
//	planrun serve -cron <expr> [-db path] [-pool n] <plan.{json,yaml,yml}>
//	planrun version
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/veyra/planrun/internal/engine"
	"github.com/veyra/planrun/internal/logging"
	"github.com/veyra/planrun/internal/planfile"
	"github.com/veyra/planrun/internal/scheduler"
	"github.com/veyra/planrun/internal/store"
	"github.com/veyra/planrun/internal/validation"
	"github.com/veyra/planrun/pkg/plan"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "validate":
		os.Exit(cmdValidate(os.Args[2:]))
	case "run":
		os.Exit(cmdRun(os.Args[2:]))
	case "serve":
		os.Exit(cmdServe(os.Args[2:]))
	case "version", "--version", "-v":
		printVersion()
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  planrun validate <plan file>
  planrun run [-db path] [-pool n] <plan file>
  planrun serve -cron <expr> [-db path] [-pool n] <plan file>
  planrun version`)
}

func newLogger(level string) *slog.Logger {
	inner := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(level)})
	return slog.New(logging.NewCorrelationHandler(inner))
}

func loadPlan(path string) (*plan.Plan, error) {
	loader, err := planfile.NewLoader(nil)
	if err != nil {
		return nil, err
	}
	return loader.LoadFile(path)
}

func cmdValidate(args []string) int {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: planrun validate <plan file>")
		return 2
	}

	p, err := loadPlan(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid: %s\n", err)
		return 1
	}

	// The loader already rejects errors; surface warnings too.
	result := validation.ValidatePlan(p)
	for _, issue := range result.Warnings {
		fmt.Fprintf(os.Stderr, "%s: %s: %s\n", issue.Severity, issue.Path, issue.Message)
	}

	fmt.Printf("plan %q valid: %d networks, %d top-level steps\n",
		p.Name, len(p.NetworkNames()), len(p.Steps))
	return 0
}

func cmdRun(args []string) int {
	cfg := loadConfig()

	fs := flag.NewFlagSet("run", flag.ExitOnError)
	dbPath := fs.String("db", cfg.DBPath, "libSQL database path for run history (empty = in-memory)")
	poolSize := fs.Int("pool", cfg.PoolSize, "max concurrently running networks")
	logLevel := fs.String("log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: planrun run [-db path] [-pool n] <plan file>")
		return 2
	}

	logger := newLogger(*logLevel)
	slog.SetDefault(logger)

	p, err := loadPlan(fs.Arg(0))
	if err != nil {
		logger.Error("plan load failed", slog.String("error", err.Error()))
		return 1
	}

	events, cleanup, err := openStore(*dbPath, logger)
	if err != nil {
		logger.Error("store open failed", slog.String("error", err.Error()))
		return 1
	}
	defer cleanup()

	exec := engine.NewExecutor(engine.Config{
		PoolSize: *poolSize,
		Events:   events,
		Logger:   logger,
	})
	defer exec.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := exec.Run(ctx, p, nil)
	if err != nil {
		logger.Error("run rejected", slog.String("error", err.Error()))
		return 1
	}

	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))

	if result.Status == plan.RunStatusFailed {
		return 1
	}
	return 0
}

func cmdServe(args []string) int {
	cfg := loadConfig()

	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	cronExpr := fs.String("cron", "", "cron expression for repeated runs (required)")
	dbPath := fs.String("db", cfg.DBPath, "libSQL database path for run history (empty = in-memory)")
	poolSize := fs.Int("pool", cfg.PoolSize, "max concurrently running networks")
	logLevel := fs.String("log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	fs.Parse(args)

	if *cronExpr == "" || fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: planrun serve -cron <expr> [-db path] [-pool n] <plan file>")
		return 2
	}

	logger := newLogger(*logLevel)
	slog.SetDefault(logger)

	p, err := loadPlan(fs.Arg(0))
	if err != nil {
		logger.Error("plan load failed", slog.String("error", err.Error()))
		return 1
	}

	events, cleanup, err := openStore(*dbPath, logger)
	if err != nil {
		logger.Error("store open failed", slog.String("error", err.Error()))
		return 1
	}
	defer cleanup()

	exec := engine.NewExecutor(engine.Config{
		PoolSize: *poolSize,
		Events:   events,
		Logger:   logger,
	})
	defer exec.Shutdown()

	sched := scheduler.NewScheduler(&executorRunner{exec: exec}, logger)
	if err := sched.Register(p.Name, p, *cronExpr); err != nil {
		logger.Error("schedule registration failed", slog.String("error", err.Error()))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sched.Start(ctx); err != nil {
		logger.Error("scheduler start failed", slog.String("error", err.Error()))
		return 1
	}

	<-ctx.Done()
	_ = sched.Stop()
	return 0
}

// executorRunner adapts the executor to the scheduler's PlanRunner.
type executorRunner struct {
	exec engine.Executor
}

func (r *executorRunner) RunPlan(ctx context.Context, p *plan.Plan) error {
	result, err := r.exec.Run(ctx, p, nil)
	if err != nil {
		return err
	}
	if result.Status == plan.RunStatusFailed && result.Err != nil {
		return result.Err
	}
	return nil
}

// openStore opens the run-history store: libSQL when a path is given,
// otherwise the in-memory log.
func openStore(dbPath string, logger *slog.Logger) (engine.EventAppender, func(), error) {
	if dbPath == "" {
		return store.NewMemoryLog(), func() {}, nil
	}

	s, err := store.NewLibSQLStore(dbPath)
	if err != nil {
		return nil, nil, err
	}
	if err := s.Migrate(context.Background()); err != nil {
		s.Close()
		return nil, nil, err
	}
	logger.Info("run history store opened", slog.String("path", dbPath))
	return s, func() { s.Close() }, nil
}
