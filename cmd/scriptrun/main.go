package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/scriptbridge/config"
)

func main() {
	var (
		configFile  = flag.String("config", "", "Path to YAML configuration")
		scriptsDir  = flag.String("scripts", "", "Script directory (overrides the configuration)")
		watch       = flag.Bool("watch", false, "Reload scripts when their files change")
		assigner    = flag.String("assigner", "", "Context assigner (shared, per_entity, per_domain, per_script, per_attachment)")
		callback    = flag.String("call", "", "Callback broadcast to every loaded script after each tick")
		interval    = flag.Duration("tick", 100*time.Millisecond, "Tick interval")
		once        = flag.Bool("once", false, "Load the scripts, run one broadcast and exit")
		list        = flag.Bool("list", false, "List registered functions and exit")
		schema      = flag.Bool("schema", false, "Print the configuration JSON schema and exit")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
	)
	flag.Parse()

	if *schema {
		out, err := config.Schema()
		if err != nil {
			fail(err)
		}
		fmt.Println(string(out))
		return
	}

	cfg, err := loadConfig(*configFile, *scriptsDir, *assigner, *watch)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Usage: scriptrun -scripts <dir> [-call callback] [-watch] [-i]")
		fmt.Fprintln(os.Stderr, "       scriptrun -config <file.yaml> [-once]")
		fmt.Fprintln(os.Stderr, "       scriptrun -schema")
		fail(err)
	}

	logger, err := cfg.Logging.Build()
	if err != nil {
		fail(err)
	}
	defer logger.Sync() //nolint:errcheck
	if *interactive {
		// The TUI owns the terminal; failures show up in its status line.
		logger = zap.NewNop()
	}
	installLoggers(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, options{
		callback:    *callback,
		interval:    *interval,
		once:        *once,
		list:        *list,
		interactive: *interactive,
	}); err != nil {
		fail(err)
	}
}

type options struct {
	callback    string
	interval    time.Duration
	once        bool
	list        bool
	interactive bool
}

func loadConfig(path, scripts, assigner string, watch bool) (*config.Config, error) {
	var cfg *config.Config
	if path != "" {
		c, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = c
	} else {
		if scripts == "" {
			return nil, fmt.Errorf("no script directory: pass -scripts or -config")
		}
		cfg = config.Default(scripts)
	}

	if scripts != "" {
		cfg.Scripts.Root = scripts
	}
	if assigner != "" {
		cfg.Scripts.Assigner = assigner
	}
	if watch {
		cfg.Scripts.Watch = true
	}
	return cfg, cfg.Validate()
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts options) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close(context.Background())
	logger.Info("script host ready", zap.String("config", describe(a)))

	if opts.list {
		for _, info := range a.registry.List() {
			fmt.Println(info.Signature())
		}
		return nil
	}

	if err := a.attach(); err != nil {
		return err
	}
	if err := a.tick(ctx); err != nil {
		return err
	}

	if opts.interactive {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			return fmt.Errorf("interactive mode needs a terminal")
		}
		return runInteractive(ctx, a, opts.interval)
	}

	if opts.once {
		if opts.callback != "" {
			n := a.manager.Broadcast(ctx, opts.callback)
			logger.Info("broadcast", zap.String("callback", opts.callback), zap.Int("handled", n))
		}
		return nil
	}

	a.serveMetrics(ctx)
	return a.run(ctx, opts.interval, opts.callback)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
