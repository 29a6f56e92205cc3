package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/pkgsnap/internal"
	"github.com/starford/pkgsnap/internal/apperr"
	pkgconfig "github.com/starford/pkgsnap/pkg/config"
)

// exitNoPackages is returned when the snapshot holds no packages.
const exitNoPackages = 2

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:        "config",
		Aliases:     []string{"c"},
		Usage:       "Path to config file",
		DefaultText: "config/config.yaml",
		Value:       "config/config.yaml",
		Sources:     cli.EnvVars("APP_CONFIG_FILE"),
	}
}

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if _, err := pkgconfig.LoadOptional(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func generate(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if v := cmd.String("url"); v != "" {
		cfg.Source.URL = v
	}
	if v := cmd.String("out"); v != "" {
		cfg.Output.Dir = v
	}
	if v := cmd.String("summary"); v != "" {
		cfg.Summary.Path = v
	}
	if cmd.Bool("keep-db") {
		cfg.Source.KeepDB = true
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if err := internal.Run(ctx, internal.WithConfig(cfg)); err != nil {
		if errors.Is(err, apperr.ErrNoEntities) {
			return err
		}
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if v := cmd.String("out"); v != "" {
		cfg.Output.Dir = v
	}
	if err := internal.Serve(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if v := cmd.String("out"); v != "" {
		cfg.Output.Dir = v
	}
	return internal.ServeMCP(ctx, internal.WithConfig(cfg))
}

func outFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "out",
		Aliases: []string{"o"},
		Usage:   "Output directory for the generated indexes",
	}
}

func main() {
	cmd := &cli.Command{
		Name:  "pkgsnap",
		Usage: "Incremental package-index snapshot synchronizer",
		Commands: []*cli.Command{
			{
				Name:   "generate",
				Usage:  "Fetch the snapshot and regenerate the indexes",
				Action: generate,
				Flags: []cli.Flag{
					configFlag(),
					outFlag(),
					&cli.StringFlag{
						Name:    "url",
						Aliases: []string{"u"},
						Usage:   "Snapshot archive URL or local path",
					},
					&cli.StringFlag{
						Name:    "summary",
						Usage:   "Markdown file the change summary is appended to",
						Sources: cli.EnvVars("GITHUB_STEP_SUMMARY"),
					},
					&cli.BoolFlag{
						Name:    "keep-db",
						Aliases: []string{"d"},
						Usage:   "Keep the extracted snapshot database",
						Hidden:  true,
					},
				},
			},
			{
				Name:   "serve",
				Usage:  "Serve the generated index over HTTP",
				Action: serve,
				Flags:  []cli.Flag{configFlag(), outFlag()},
			},
			{
				Name:   "mcp",
				Usage:  "Serve the generated index to MCP clients over stdio",
				Action: serveMCP,
				Flags:  []cli.Flag{configFlag(), outFlag()},
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cmd.Run(ctx, os.Args)
	stop()
	if err != nil {
		if errors.Is(err, apperr.ErrNoEntities) {
			os.Exit(exitNoPackages)
		}
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
