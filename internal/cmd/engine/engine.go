// Package engine parses engine command flags and starts the simulation
// runtime.
package engine

import (
	"context"
	"flag"

	"github.com/roguebench/roguebench/internal/engine/app"
	entrypoint "github.com/roguebench/roguebench/internal/platform/cmd"
)

// ParseConfig parses environment and flags into an app.Config.
func ParseConfig(fs *flag.FlagSet, args []string) (app.Config, error) {
	var cfg app.Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return app.Config{}, err
	}
	fs.StringVar(&cfg.StorePath, "store", cfg.StorePath, "Path to the SQLite content database")
	fs.StringVar(&cfg.ContentDir, "content-dir", cfg.ContentDir, "Directory of YAML definitions (overrides -store)")
	fs.StringVar(&cfg.ScriptsDir, "scripts-dir", cfg.ScriptsDir, "Directory of Lua behavior modules")
	fs.StringVar(&cfg.JournalPath, "journal", cfg.JournalPath, "Where to save the command journal on shutdown")
	fs.IntVar(&cfg.TickHz, "tick-hz", cfg.TickHz, "Fixed update rate in ticks per second")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return app.Config{}, err
	}
	return cfg, nil
}

// Run starts the simulation runtime with telemetry configured.
func Run(ctx context.Context, cfg app.Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceEngine, func(ctx context.Context) error {
		runtime, err := app.New(cfg)
		if err != nil {
			return err
		}
		defer runtime.Close()
		return runtime.Run(ctx)
	})
}
