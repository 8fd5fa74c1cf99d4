// Package scripting hosts Lua behavior modules. Modules return a table of
// hook handlers; the host dispatches engine events to them and gives them
// a queued (never re-entrant) way to issue commands back.
package scripting

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/Shopify/go-lua"

	"github.com/roguebench/roguebench/internal/engine/command"
	"github.com/roguebench/roguebench/internal/engine/statemachine"
	"github.com/roguebench/roguebench/internal/platform/errors"
)

// Hooks a module may implement. A module opts in by defining a function of
// the same name in its returned table; there is no registration call.
const (
	HookCommandExecuted = "on_command_executed"
	HookStateEnter      = "on_state_enter"
	HookStateExit       = "on_state_exit"
)

// Host owns a single Lua state and the modules loaded into it. All access
// to the state is serialized through the host mutex.
type Host struct {
	mu      sync.Mutex
	state   *lua.State
	modules map[string]struct{}
}

// New creates a host with the Lua standard libraries open.
func New() *Host {
	state := lua.NewState()
	lua.OpenLibraries(state)
	return &Host{
		state:   state,
		modules: map[string]struct{}{},
	}
}

// Attach binds the host to a bus: scripts get a `commands.enqueue(kind,
// payload)` global, and every executed command is dispatched to the
// on_command_executed hook. Executed state transitions additionally fire
// on_state_exit and on_state_enter.
func (h *Host) Attach(bus *command.Bus) error {
	if bus == nil {
		return fmt.Errorf("bus is required")
	}
	h.registerCommandAPI(bus)
	return bus.SubscribeAll(func(ctx context.Context, ev command.Event) {
		h.handleEvent(ev)
	})
}

func (h *Host) registerCommandAPI(bus *command.Bus) {
	h.mu.Lock()
	defer h.mu.Unlock()

	l := h.state
	l.NewTable()
	l.PushGoFunction(func(l *lua.State) int {
		kind := lua.CheckString(l, 1)
		payload := map[string]any{}
		if l.TypeOf(2) == lua.TypeTable {
			payload = tableToMap(l, 2)
		}

		cmd := command.Command{Kind: kind, Payload: payload, Source: command.SourceScript}
		// Route the table through the kind's replay decoder so executors
		// see their typed payload, not a raw map.
		if raw, err := json.Marshal(payload); err == nil {
			if typed, err := bus.DecodePayload(kind, raw); err == nil {
				cmd.Payload = typed
			}
		}
		bus.Enqueue(cmd)
		return 0
	})
	l.SetField(-2, "enqueue")
	l.SetGlobal("commands")
}

func (h *Host) handleEvent(ev command.Event) {
	h.Dispatch(HookCommandExecuted, map[string]any{
		"kind":   ev.Command.Kind,
		"seq":    int(ev.Seq),
		"source": ev.Command.Source,
	})

	if ev.Command.Kind != statemachine.KindTransition {
		return
	}
	payload, ok := ev.Output.(statemachine.TransitionPayload)
	if !ok {
		return
	}
	transition := map[string]any{
		"instance_id":      payload.InstanceID,
		"from":             payload.From,
		"to":               payload.To,
		"time_in_previous": payload.TimeInPrevious,
	}
	// Resets to the initial state leave no state behind to exit.
	if payload.From != "" {
		h.Dispatch(HookStateExit, transition)
	}
	h.Dispatch(HookStateEnter, transition)
}

// LoadModule compiles and runs source as a module named name. The chunk
// must return a table; reloading an existing name replaces it.
func (h *Host) LoadModule(name, source string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("module name is required")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	l := h.state
	top := l.Top()
	defer l.SetTop(top)

	if err := l.Load(strings.NewReader(source), name, ""); err != nil {
		return errors.WrapWithMetadata(errors.CodeScriptLoadFailed,
			fmt.Sprintf("compile module %s", name),
			map[string]string{"module": name}, err)
	}
	if err := l.ProtectedCall(0, 1, 0); err != nil {
		return errors.WrapWithMetadata(errors.CodeScriptLoadFailed,
			fmt.Sprintf("run module %s", name),
			map[string]string{"module": name}, err)
	}
	if l.TypeOf(-1) != lua.TypeTable {
		return errors.WithMetadata(errors.CodeScriptLoadFailed,
			fmt.Sprintf("module %s must return a table", name),
			map[string]string{"module": name})
	}

	l.SetField(lua.RegistryIndex, moduleKey(name))
	h.modules[name] = struct{}{}
	return nil
}

// LoadDir loads every *.lua file in dir as a module named after the file,
// in file-name order. The first failure stops the load.
func (h *Host) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read scripts dir: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.ToLower(filepath.Ext(entry.Name())) != ".lua" {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	for _, file := range names {
		source, err := os.ReadFile(filepath.Join(dir, file))
		if err != nil {
			return fmt.Errorf("read script %s: %w", file, err)
		}
		name := strings.TrimSuffix(file, filepath.Ext(file))
		if err := h.LoadModule(name, string(source)); err != nil {
			return err
		}
	}
	return nil
}

// Unload removes a module. Reports whether the module was loaded.
func (h *Host) Unload(name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.modules[name]; !ok {
		return false
	}
	delete(h.modules, name)
	h.state.PushNil()
	h.state.SetField(lua.RegistryIndex, moduleKey(name))
	return true
}

// Modules returns the loaded module names sorted, which is also dispatch
// order.
func (h *Host) Modules() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sortedModules()
}

func (h *Host) sortedModules() []string {
	names := make([]string, 0, len(h.modules))
	for name := range h.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Handles reports whether a module defines a function for the given hook.
func (h *Host) Handles(module, hook string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	l := h.state
	top := l.Top()
	defer l.SetTop(top)

	l.Field(lua.RegistryIndex, moduleKey(module))
	if l.TypeOf(-1) != lua.TypeTable {
		return false
	}
	l.Field(-1, hook)
	return l.TypeOf(-1) == lua.TypeFunction
}

// Dispatch calls hook on every module that defines it, passing event as a
// table. A failing handler is logged and skipped; it never interrupts the
// other modules or the dispatching command. Returns the number of handlers
// that ran without error.
func (h *Host) Dispatch(hook string, event map[string]any) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	called := 0
	for _, name := range h.sortedModules() {
		if h.callHook(name, hook, event) {
			called++
		}
	}
	return called
}

func (h *Host) callHook(module, hook string, event map[string]any) bool {
	l := h.state
	top := l.Top()
	defer l.SetTop(top)

	l.Field(lua.RegistryIndex, moduleKey(module))
	if l.TypeOf(-1) != lua.TypeTable {
		return false
	}
	l.Field(-1, hook)
	if l.TypeOf(-1) != lua.TypeFunction {
		return false
	}
	pushValue(l, event)
	if err := l.ProtectedCall(1, 0, 0); err != nil {
		log.Printf("script %s.%s: %v", module, hook, err)
		return false
	}
	return true
}

func moduleKey(name string) string {
	return "module:" + name
}
