package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/pvginkel/ModernAppTemplate/internal"
	"github.com/pvginkel/ModernAppTemplate/internal/apperr"
	pkgconfig "github.com/pvginkel/ModernAppTemplate/pkg/config"
)

var version = "dev"

// loadConfig reads the configuration file and applies the flags that
// override it.
func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadOptional(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cmd.IsSet("log-level") {
		if err := cfg.App.LogLevel.UnmarshalText([]byte(cmd.String("log-level"))); err != nil {
			return nil, fmt.Errorf("invalid --log-level: %w", err)
		}
	}
	if cmd.IsSet("format") {
		cfg.Report.Format = cmd.String("format")
	}
	if cmd.IsSet("color") {
		cfg.Report.Color = cmd.String("color")
	}
	if cmd.IsSet("workers") {
		cfg.Detect.Workers = int(cmd.Int("workers"))
	}
	if cmd.IsSet("answers-file") {
		cfg.Snapshot.AnswersFile = cmd.String("answers-file")
	}
	if cmd.IsSet("port") {
		cfg.Serve.Port = int(cmd.Int("port"))
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// appRoot returns the APP_ROOT argument, defaulting to the working directory.
func appRoot(cmd *cli.Command) string {
	if cmd.NArg() > 0 {
		return cmd.Args().First()
	}
	return "."
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	exitCode := apperr.ExitClean
	opts := func(cmd *cli.Command) ([]internal.Option, error) {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return nil, err
		}
		return []internal.Option{internal.WithConfig(cfg), internal.WithVersion(version)}, nil
	}

	check := func(ctx context.Context, cmd *cli.Command) error {
		o, err := opts(cmd)
		if err != nil {
			return err
		}
		exitCode, err = internal.Check(ctx, internal.CheckRequest{
			AppRoot:  appRoot(cmd),
			Template: cmd.String("template"),
			Commits:  cmd.Bool("commits"),
			Diff:     cmd.Bool("diff"),
		}, o...)
		return err
	}

	cmd := &cli.Command{
		Name:      "driftcheck",
		Usage:     "Find template-owned files a Copier-generated application has modified",
		Version:   version,
		ArgsUsage: "[APP_ROOT]",
		Action:    check,
		// Root flags are persistent, so every subcommand accepts them.
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file (optional)",
				Value:   "driftcheck.yaml",
				Sources: cli.EnvVars("DRIFTCHECK_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level: debug, info, warn or error",
				Sources: cli.EnvVars("DRIFTCHECK_LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:  "answers-file",
				Usage: "Name of the Copier answers file",
			},
			&cli.StringFlag{
				Name:    "template",
				Aliases: []string{"t"},
				Usage:   "Local template checkout (defaults to _src_path in the answers file)",
				Sources: cli.EnvVars("DRIFTCHECK_TEMPLATE"),
			},
			&cli.BoolFlag{Name: "commits", Usage: "List the commits that touched each finding"},
			&cli.BoolFlag{Name: "diff", Usage: "Show a unified diff per finding"},
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Usage: "Output format: text or json"},
			&cli.StringFlag{Name: "color", Usage: "Colour output: auto, always or never"},
			&cli.IntFlag{Name: "workers", Usage: "Concurrent file comparisons"},
		},
		Commands: []*cli.Command{
			{
				Name:      "check",
				Usage:     "Report drift of one application (default command)",
				ArgsUsage: "[APP_ROOT]",
				Action:    check,
			},
			{
				Name:      "changes",
				Usage:     "Show commits and diff since the last template sync (docs/ excluded)",
				ArgsUsage: "[APP_ROOT]",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					o, err := opts(cmd)
					if err != nil {
						return err
					}
					exitCode, err = internal.Changes(ctx, appRoot(cmd), o...)
					return err
				},
			},
			{
				Name:      "workspace",
				Usage:     "Check every generated application listed in a VS Code workspace file",
				ArgsUsage: "FILE.code-workspace",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					if cmd.NArg() != 1 {
						return fmt.Errorf("workspace: expected one workspace file, got %d arguments", cmd.NArg())
					}
					o, err := opts(cmd)
					if err != nil {
						return err
					}
					exitCode, err = internal.Workspace(ctx, internal.WorkspaceRequest{
						File:     cmd.Args().First(),
						Template: cmd.String("template"),
						Commits:  cmd.Bool("commits"),
						Diff:     cmd.Bool("diff"),
					}, o...)
					return err
				},
			},
			{
				Name:      "serve",
				Usage:     "Serve the live report of one application over HTTP",
				ArgsUsage: "[APP_ROOT]",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Usage: "HTTP port", Sources: cli.EnvVars("DRIFTCHECK_PORT")},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					o, err := opts(cmd)
					if err != nil {
						return err
					}
					return internal.Serve(ctx, internal.ServeRequest{
						AppRoot:  appRoot(cmd),
						Template: cmd.String("template"),
					}, o...)
				},
			},
			{
				Name:  "mcp",
				Usage: "Serve the drift checker as MCP tools over stdio",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					o, err := opts(cmd)
					if err != nil {
						return err
					}
					return internal.MCP(ctx, o...)
				},
			},
		},
	}

	if err := cmd.Run(ctx, os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		stop()
		os.Exit(apperr.ExitCode(err))
	}
	stop()
	os.Exit(exitCode)
}
