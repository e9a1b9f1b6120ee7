package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/use-agent/pbiprobe/browser"
	"github.com/use-agent/pbiprobe/config"
	"github.com/use-agent/pbiprobe/notify"
	"github.com/use-agent/pbiprobe/probe"
	"github.com/use-agent/pbiprobe/runner"
)

// Exit codes.
const (
	exitOK     = 0
	exitFailed = 1 // a report never loaded, an area email was not delivered, or the run was interrupted
	exitConfig = 2
)

type options struct {
	configPath string
	tenant     string
}

func main() {
	os.Exit(execute(os.Args[1:], productionDeps()))
}

// execute parses args and runs the command, returning the process exit code.
func execute(args []string, d deps) int {
	code := exitOK
	var opts options

	cmd := &cobra.Command{
		Use:   "pbiprobe",
		Short: "Open every Power BI report listed in the input workbooks and flag pages that fail to render",
		Long: `pbiprobe reads one workbook per business area, opens each listed report in a
browser signed in through the tenant's persisted profile, pages through it,
screenshots every page and marks pages that show a visual error. Results are
written to result.html in a fresh run directory and each area is emailed a
summary.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// ── 1. Load configuration ───────────────────────────────
			cfg := config.Load()

			// ── 2. Initialise structured logging ────────────────────
			initLogger(cfg.Log)
			if err := cfg.Validate(); err != nil {
				slog.Error("invalid configuration", "error", err)
				code = exitConfig
				return nil
			}

			// ── 3. Run until done or interrupted ────────────────────
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			code = run(ctx, cfg, opts, d)
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "tenants.yaml", "tenants YAML file")
	cmd.Flags().StringVarP(&opts.tenant, "tenant", "t", "DEFAULT", "tenant whose browser profile is used")
	cmd.SetArgs(args)

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		cmd.PrintErrln("Error:", err)
		return exitConfig
	}
	return code
}

// productionDeps wires the real browser and SendGrid.
func productionDeps() deps {
	return deps{
		newSession: func(cfg config.BrowserConfig) runner.SessionFactory {
			return func(ctx context.Context, profileDir string) (probe.Session, error) {
				s, err := browser.Open(ctx, cfg, profileDir)
				if err != nil {
					// keep the interface nil
					return nil, err
				}
				return s, nil
			}
		},
		newNotifier: func(r notify.Recipients, cfg config.NotifyConfig) areaNotifier {
			return notify.NewSendGrid(r, cfg)
		},
	}
}

// initLogger configures slog based on the LogConfig.
func initLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))
}
