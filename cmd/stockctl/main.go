package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/odyssey-erp/stockledger/cmd/stockctl/cli"
	"github.com/odyssey-erp/stockledger/internal/app"
	"github.com/odyssey-erp/stockledger/internal/observability"
	"github.com/odyssey-erp/stockledger/internal/platform/cache"
	"github.com/odyssey-erp/stockledger/internal/platform/db"
)

const usage = `usage: stockctl <command> [flags]

commands:
  reconcile -direction in|out [-json] FILE|-   replay a stock movement CSV
  integrity [-json]                             compare cached stock with the ledger
  migrate                                       apply the database schema
  jobs stats [-json]                            show the default queue
  jobs trigger NAME                             enqueue a job (stock:integrity, idempotency:cleanup)
`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = fmt.Fprint(stderr, usage)
		return cli.ExitError
	}
	if err := app.LoadDotEnv(); err != nil {
		_, _ = fmt.Fprintf(stderr, "load .env: %v\n", err)
		return cli.ExitError
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "load config: %v\n", err)
		return cli.ExitError
	}
	logger := app.NewLogger(cfg)

	switch args[0] {
	case "reconcile":
		fs := flag.NewFlagSet("reconcile", flag.ContinueOnError)
		fs.SetOutput(stderr)
		direction := fs.String("direction", "", "movement direction: in or out")
		jsonOut := fs.Bool("json", false, "print the summary as JSON")
		if err := fs.Parse(args[1:]); err != nil || fs.NArg() != 1 {
			_, _ = fmt.Fprint(stderr, usage)
			return cli.ExitError
		}
		return withServices(ctx, cfg, logger, stderr, func(services *app.Services) int {
			return cli.NewStockCLI(services.Reconciler, nil).ReconcileCommand(ctx, cli.ReconcileOptions{
				Direction:  *direction,
				Path:       fs.Arg(0),
				JSONOutput: *jsonOut,
				Stdin:      stdin,
				Stdout:     stdout,
				Stderr:     stderr,
			})
		})
	case "integrity":
		fs := flag.NewFlagSet("integrity", flag.ContinueOnError)
		fs.SetOutput(stderr)
		jsonOut := fs.Bool("json", false, "print drifts as JSON")
		if err := fs.Parse(args[1:]); err != nil {
			return cli.ExitError
		}
		return withServices(ctx, cfg, logger, stderr, func(services *app.Services) int {
			return cli.NewStockCLI(nil, services.Ledger).IntegrityCommand(ctx, cli.IntegrityOptions{
				JSONOutput: *jsonOut,
				Stdout:     stdout,
				Stderr:     stderr,
			})
		})
	case "migrate":
		pool, err := db.New(ctx, cfg.PGDSN)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "connect postgres: %v\n", err)
			return cli.ExitError
		}
		defer pool.Close()
		if err := db.Migrate(ctx, pool); err != nil {
			_, _ = fmt.Fprintf(stderr, "migrate: %v\n", err)
			return cli.ExitError
		}
		_, _ = fmt.Fprintln(stdout, "schema applied")
		return cli.ExitOK
	case "jobs":
		return runJobs(ctx, cfg.RedisAddr, args[1:], stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "%v: %s\n", cli.ErrUnknownCommand, args[0])
		_, _ = fmt.Fprint(stderr, usage)
		return cli.ExitError
	}
}

func withServices(ctx context.Context, cfg *app.Config, logger *slog.Logger, stderr io.Writer, fn func(*app.Services) int) int {
	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "connect postgres: %v\n", err)
		return cli.ExitError
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable", slog.Any("error", err))
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	services, err := app.BuildServices(app.ServiceParams{
		Config:  cfg,
		Logger:  logger,
		Pool:    pool,
		Redis:   redisClient,
		Metrics: observability.NewMetrics(),
	})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "build services: %v\n", err)
		return cli.ExitError
	}
	defer func() {
		if err := services.Close(); err != nil {
			logger.Warn("close process log", slog.Any("error", err))
		}
	}()
	return fn(services)
}

func runJobs(ctx context.Context, redisAddr string, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = fmt.Fprint(stderr, usage)
		return cli.ExitError
	}
	jobsCLI, err := cli.NewJobsCLI(redisAddr)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return cli.ExitError
	}
	defer jobsCLI.Close()

	switch args[0] {
	case "stats":
		fs := flag.NewFlagSet("jobs stats", flag.ContinueOnError)
		fs.SetOutput(stderr)
		jsonOut := fs.Bool("json", false, "print stats as JSON")
		if err := fs.Parse(args[1:]); err != nil {
			return cli.ExitError
		}
		stats, err := jobsCLI.InspectQueue(ctx)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "jobs stats: %v\n", err)
			return cli.ExitError
		}
		if *jsonOut {
			_ = json.NewEncoder(stdout).Encode(stats)
			return cli.ExitOK
		}
		_, _ = fmt.Fprintf(stdout, "queue=%s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
		return cli.ExitOK
	case "trigger":
		if len(args) != 2 {
			_, _ = fmt.Fprint(stderr, usage)
			return cli.ExitError
		}
		id, err := jobsCLI.Trigger(ctx, args[1])
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "jobs trigger: %v\n", err)
			return cli.ExitError
		}
		_, _ = fmt.Fprintf(stdout, "enqueued %s (%s)\n", args[1], id)
		return cli.ExitOK
	default:
		_, _ = fmt.Fprintf(stderr, "%v: jobs %s\n", cli.ErrUnknownCommand, args[0])
		return cli.ExitError
	}
}
