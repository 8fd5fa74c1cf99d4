// Package app assembles the runtime: content store, definition registry,
// state machine engine, command bus, script host, and the hot-reload
// watcher, driven by a fixed-timestep loop.
package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/roguebench/roguebench/internal/engine/command"
	"github.com/roguebench/roguebench/internal/engine/content"
	"github.com/roguebench/roguebench/internal/engine/scripting"
	"github.com/roguebench/roguebench/internal/engine/statemachine"
	"github.com/roguebench/roguebench/internal/engine/storage/sqlite"
	"github.com/roguebench/roguebench/internal/engine/storage/watch"
	"github.com/roguebench/roguebench/internal/engine/storage/yamlstore"
)

// Config is the engine process configuration.
type Config struct {
	// StorePath is the SQLite content database. Used unless ContentDir
	// selects YAML authoring mode.
	StorePath string `env:"ROGUEBENCH_STORE_PATH" envDefault:"roguebench.db"`
	// ContentDir, when set, loads definitions from YAML files in a
	// directory instead of the SQLite store.
	ContentDir string `env:"ROGUEBENCH_CONTENT_DIR"`
	// ScriptsDir, when set, loads every *.lua behavior module in it.
	ScriptsDir string `env:"ROGUEBENCH_SCRIPTS_DIR"`
	// JournalPath, when set, writes the command journal there on shutdown.
	JournalPath string `env:"ROGUEBENCH_JOURNAL_PATH"`
	// TickHz is the fixed update rate.
	TickHz int `env:"ROGUEBENCH_TICK_HZ" envDefault:"30"`
	// WatchDebounce is how long content changes must settle before a
	// reload.
	WatchDebounce time.Duration `env:"ROGUEBENCH_WATCH_DEBOUNCE" envDefault:"500ms"`
}

// App is an assembled engine runtime.
type App struct {
	cfg       Config
	store     *sqlite.Store
	source    content.Store
	registry  *content.Registry[statemachine.Definition]
	engine    *statemachine.Engine
	bus       *command.Bus
	instances *statemachine.InstanceSet
	host      *scripting.Host
	watcher   *watch.Watcher
}

// New builds the runtime from cfg. Content comes from cfg.ContentDir when
// set, otherwise from the SQLite store at cfg.StorePath.
func New(cfg Config) (*App, error) {
	if cfg.TickHz < 1 {
		return nil, fmt.Errorf("tick rate must be at least 1, got %d", cfg.TickHz)
	}

	registry, err := content.NewRegistry("state_machine", statemachine.DecodeDefinition)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:       cfg,
		registry:  registry,
		bus:       command.NewBus(),
		instances: statemachine.NewInstanceSet(),
		host:      scripting.New(),
	}

	watchPath := cfg.ContentDir
	if cfg.ContentDir != "" {
		source, err := yamlstore.New(cfg.ContentDir)
		if err != nil {
			return nil, err
		}
		a.source = source
	} else {
		store, err := sqlite.Open(cfg.StorePath)
		if err != nil {
			return nil, err
		}
		a.store = store
		a.source = store
		watchPath = cfg.StorePath
	}

	a.engine, err = statemachine.NewEngine(registry)
	if err != nil {
		a.Close()
		return nil, err
	}
	if err := statemachine.RegisterTransitionCommand(a.bus, a.instances, registry); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.host.Attach(a.bus); err != nil {
		a.Close()
		return nil, err
	}
	if cfg.ScriptsDir != "" {
		if err := a.host.LoadDir(cfg.ScriptsDir); err != nil {
			a.Close()
			return nil, err
		}
	}

	a.watcher, err = watch.New(watch.Config{
		Path:     watchPath,
		Debounce: cfg.WatchDebounce,
		OnChange: a.onContentChange,
		OnRemove: a.onContentRemove,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	return a, nil
}

// Close releases the watcher and the store. Safe on a partially built app.
func (a *App) Close() error {
	var err error
	if a.watcher != nil {
		err = a.watcher.Close()
	}
	if cerr := a.store.Close(); err == nil {
		err = cerr
	}
	return err
}

// Bus returns the command bus.
func (a *App) Bus() *command.Bus { return a.bus }

// Instances returns the live instance set.
func (a *App) Instances() *statemachine.InstanceSet { return a.instances }

// Registry returns the definition registry.
func (a *App) Registry() *content.Registry[statemachine.Definition] { return a.registry }

// Scripts returns the behavior script host.
func (a *App) Scripts() *scripting.Host { return a.host }

// Store returns the SQLite store, or nil in YAML authoring mode.
func (a *App) Store() *sqlite.Store { return a.store }

// Reload loads all definitions from the content source into the registry.
func (a *App) Reload(ctx context.Context) error {
	return a.registry.Reload(ctx, a.source)
}

func (a *App) onContentChange(path string) {
	if err := a.Reload(context.Background()); err != nil {
		// Keep serving the previous snapshot; the author sees the error.
		log.Printf("content reload after %s: %v", path, err)
		return
	}
	log.Printf("content reloaded: %d definitions", a.registry.Len())
}

func (a *App) onContentRemove(path string) {
	if a.cfg.ContentDir == "" {
		log.Printf("content store removed: %s", path)
		return
	}
	id := yamlstore.IDFromPath(path)
	a.registry.Remove(id)
	log.Printf("content removed: %s", id)
}

// Run loads content, starts the watcher, and ticks at cfg.TickHz until ctx
// is cancelled. On shutdown the journal is saved when a path is configured.
func (a *App) Run(ctx context.Context) error {
	if err := a.Reload(ctx); err != nil {
		return fmt.Errorf("initial content load: %w", err)
	}
	a.watcher.Start(ctx)

	interval := time.Second / time.Duration(a.cfg.TickHz)
	dt := interval.Seconds()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("engine running at %d Hz with %d definitions", a.cfg.TickHz, a.registry.Len())
	for {
		select {
		case <-ctx.Done():
			return a.saveJournal()
		case <-ticker.C:
			a.Step(ctx, dt)
		}
	}
}

// Step advances every instance by dt seconds. Fired transitions are routed
// through the bus so they are validated, journaled, and visible to scripts;
// afterwards any script-enqueued commands are drained.
func (a *App) Step(ctx context.Context, dt float64) {
	for _, inst := range a.instances.All() {
		fired, err := a.engine.Update(inst, dt)
		if err != nil {
			log.Printf("update instance %s: %v", inst.ID, err)
			continue
		}
		if fired == nil {
			continue
		}
		payload := statemachine.TransitionPayload{
			InstanceID:     inst.ID,
			From:           fired.From,
			To:             fired.To,
			TimeInPrevious: fired.TimeInPrevious,
		}
		cmd := command.Command{Kind: statemachine.KindTransition, Payload: payload, Source: command.SourceSystem}
		if _, err := a.bus.Submit(ctx, cmd); err != nil {
			log.Printf("apply transition for %s: %v", inst.ID, err)
		}
	}
	a.bus.Drain(ctx)
}

func (a *App) saveJournal() error {
	if a.cfg.JournalPath == "" {
		return nil
	}
	if err := a.bus.Journal().SaveFile(a.cfg.JournalPath); err != nil {
		return fmt.Errorf("save journal: %w", err)
	}
	log.Printf("journal saved: %d entries to %s", a.bus.Journal().Len(), a.cfg.JournalPath)
	return nil
}
