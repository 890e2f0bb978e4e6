// Command warrantd hosts the warrant engine as a standalone process with a
// line-oriented operator console on stdin.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/xraph/warrant"
	"github.com/xraph/warrant/action"
	audithook "github.com/xraph/warrant/audit_hook"
	"github.com/xraph/warrant/capability"
	"github.com/xraph/warrant/capability/redisperm"
	"github.com/xraph/warrant/catalog"
	"github.com/xraph/warrant/economy"
	"github.com/xraph/warrant/store/dial"
	"github.com/xraph/warrant/sweep"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		catalogPath string
		noConsole   bool
		showVersion bool
	)

	flagSet := pflag.NewFlagSet("warrantd", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to warrantd.yaml (default: $WARRANT_CONFIG)")
	flagSet.StringVar(&catalogPath, "catalog", "", "override the catalog path from the config file")
	flagSet.BoolVar(&noConsole, "no-console", false, "do not read operator commands from stdin")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if showVersion {
		fmt.Printf("warrantd %s\n", version)
		return nil
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	if catalogPath != "" {
		cfg.Catalog = catalogPath
	}

	logger := cfg.Logger()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := newDaemon(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer d.close()

	if err := d.engine.Start(ctx); err != nil {
		_ = d.engine.Store().Close()
		return fmt.Errorf("starting engine: %w", err)
	}
	logger.Info("warrantd started",
		"store", cfg.Store.Driver,
		"catalog", cfg.Catalog,
		"items", len(d.items.Items()),
		"redis", cfg.Redis.Addr != "",
	)

	go d.reloadOnHangup(ctx)

	if noConsole {
		<-ctx.Done()
	} else {
		console := NewConsole(d.engine, d.wallet, d.starting, os.Stdout)
		if err := console.Run(ctx, os.Stdin); err != nil {
			logger.Error("console stopped", "error", err)
		}
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.engine.Stop(stopCtx); err != nil {
		return fmt.Errorf("stopping engine: %w", err)
	}
	logger.Info("warrantd stopped")
	return nil
}

// daemon holds everything run wires together.
type daemon struct {
	cfg      *Config
	logger   *slog.Logger
	engine   *warrant.Warrant
	items    *catalog.Static
	wallet   *economy.Wallet
	starting warrant.Amount
	redis    *redis.Client
}

func newDaemon(ctx context.Context, cfg *Config, logger *slog.Logger) (*daemon, error) {
	items, err := catalog.LoadFile(cfg.Catalog)
	if err != nil {
		return nil, fmt.Errorf("loading catalog: %w", err)
	}
	starting, err := cfg.StartingBalance()
	if err != nil {
		return nil, err
	}
	interval, err := cfg.SweepInterval()
	if err != nil {
		return nil, err
	}

	s, err := dial.Open(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	d := &daemon{
		cfg:      cfg,
		logger:   logger,
		items:    items,
		wallet:   economy.NewWallet(cfg.Economy.Symbol),
		starting: starting,
	}

	opts := []warrant.Option{
		warrant.WithLogger(logger),
		warrant.WithDispatcher(action.DispatcherFunc(d.dispatch)),
		warrant.WithQuotaProvider(logQuota{logger: logger}),
		warrant.WithPlugin(audithook.New(audithook.RecorderFunc(d.audit), audithook.WithQuietSweeps())),
	}
	if interval > 0 {
		opts = append(opts, warrant.WithSweepInterval(interval))
	}
	if cfg.Sweep.Disabled {
		opts = append(opts, warrant.WithoutSweep())
	}
	if cfg.Sweep.FlightCapability != "" {
		opts = append(opts, warrant.WithSweepHook(sweep.Hook{
			Name:  "ground-flight",
			Match: sweep.Any(sweep.Exact(cfg.Sweep.FlightCapability), sweep.Suffix(".fly")),
			Run:   d.ground,
		}))
	}
	if cfg.Redis.Addr != "" {
		d.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		var ropts []redisperm.Option
		if cfg.Redis.Prefix != "" {
			ropts = append(ropts, redisperm.WithPrefix(cfg.Redis.Prefix))
		}
		opts = append(opts, warrant.WithRichBackend(redisperm.New(d.redis, ropts...)))
	}

	d.engine = warrant.New(s, items, d.wallet, opts...)
	return d, nil
}

// close releases what the engine does not own. Stop closes the store.
func (d *daemon) close() {
	if d.redis != nil {
		if err := d.redis.Close(); err != nil {
			d.logger.Warn("closing redis", "error", err)
		}
	}
}

// reloadOnHangup swaps in a freshly loaded catalog on SIGHUP.
func (d *daemon) reloadOnHangup(ctx context.Context) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			fresh, err := catalog.LoadFile(d.cfg.Catalog)
			if err != nil {
				d.logger.Error("catalog reload failed", "path", d.cfg.Catalog, "error", err)
				continue
			}
			d.items.Replace(fresh)
			d.logger.Info("catalog reloaded", "items", len(fresh.Items()))
		}
	}
}

// dispatch stands in for a host command runner: the expanded command is
// logged.
func (d *daemon) dispatch(_ context.Context, template string, subject uuid.UUID) error {
	d.logger.Info("dispatch", "subject", subject, "command", action.Expand(template, subject, nil))
	return nil
}

func (d *daemon) ground(_ context.Context, expired capability.TimedCapability) error {
	d.logger.Info("flight disabled", "subject", expired.SubjectID, "capability", expired.Capability)
	return nil
}

func (d *daemon) audit(_ context.Context, e *audithook.AuditEvent) error {
	d.logger.Info("audit",
		"action", e.Action,
		"resource", e.Resource,
		"resource_id", e.ResourceID,
		"outcome", e.Outcome,
		"severity", e.Severity,
		"metadata", e.Metadata,
	)
	return nil
}

// logQuota records resource limit raises in the log.
type logQuota struct{ logger *slog.Logger }

func (q logQuota) Name() string { return "log" }

func (q logQuota) RaiseLimit(_ context.Context, subject uuid.UUID, amount int) error {
	q.logger.Info("resource limit raised", "subject", subject, "amount", amount)
	return nil
}
