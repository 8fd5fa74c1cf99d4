package scripting

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/roguebench/roguebench/internal/engine/command"
	"github.com/roguebench/roguebench/internal/engine/content"
	"github.com/roguebench/roguebench/internal/engine/statemachine"
	"github.com/roguebench/roguebench/internal/engine/storage/memstore"
	"github.com/roguebench/roguebench/internal/platform/errors"
)

const goblinDefJSON = `{
	"initial_state": "idle",
	"states": [{"id": "idle"}, {"id": "patrol"}],
	"transitions": [
		{"from": "idle", "to": "patrol", "condition": {"flag": ["player_spotted", true]}}
	]
}`

type hookFixture struct {
	bus       *command.Bus
	host      *Host
	instances *statemachine.InstanceSet
	inst      *statemachine.Instance
}

func newHookFixture(t *testing.T) *hookFixture {
	t.Helper()

	store := memstore.New()
	store.Put(content.Record{ID: "goblin_ai", Data: []byte(goblinDefJSON)})

	defs, err := content.NewRegistry("state_machine", statemachine.DecodeDefinition)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	if err := defs.Reload(context.Background(), store); err != nil {
		t.Fatalf("reload: %v", err)
	}

	instances := statemachine.NewInstanceSet()
	inst, err := instances.Spawn("goblin_ai", "idle")
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	bus := command.NewBus()
	if err := statemachine.RegisterTransitionCommand(bus, instances, defs); err != nil {
		t.Fatalf("register transition command: %v", err)
	}

	host := New()
	if err := host.Attach(bus); err != nil {
		t.Fatalf("attach: %v", err)
	}

	return &hookFixture{bus: bus, host: host, instances: instances, inst: inst}
}

func captureKind(t *testing.T, bus *command.Bus, kind string) *[]map[string]any {
	t.Helper()
	got := &[]map[string]any{}
	err := bus.RegisterExecutor(kind, func(ctx context.Context, cmd command.Command) (any, error) {
		payload, _ := cmd.Payload.(map[string]any)
		*got = append(*got, payload)
		return nil, nil
	})
	if err != nil {
		t.Fatalf("register %s executor: %v", kind, err)
	}
	return got
}

func TestLoadModuleValidation(t *testing.T) {
	host := New()

	if err := host.LoadModule("", "return {}"); err == nil {
		t.Fatal("expected missing name error")
	}

	err := host.LoadModule("bad", "return 42")
	if err == nil {
		t.Fatal("expected non-table module error")
	}
	var domainErr *errors.Error
	if !stderrors.As(err, &domainErr) || domainErr.Code != errors.CodeScriptLoadFailed {
		t.Fatalf("expected script load code, got %v", err)
	}

	if err := host.LoadModule("broken", "return {"); err == nil {
		t.Fatal("expected compile error")
	}
	if len(host.Modules()) != 0 {
		t.Fatalf("expected no modules after failures, got %v", host.Modules())
	}
}

func TestHandlesProbesHookFunctions(t *testing.T) {
	host := New()
	err := host.LoadModule("guard", `
		local m = { threshold = 5 }
		function m.on_command_executed(event) end
		return m
	`)
	if err != nil {
		t.Fatalf("load module: %v", err)
	}

	if !host.Handles("guard", HookCommandExecuted) {
		t.Fatal("expected guard to handle on_command_executed")
	}
	if host.Handles("guard", HookStateEnter) {
		t.Fatal("expected guard not to handle on_state_enter")
	}
	// Plain fields are not handlers.
	if host.Handles("guard", "threshold") {
		t.Fatal("expected non-function field to be rejected")
	}
	if host.Handles("missing", HookCommandExecuted) {
		t.Fatal("expected unknown module to handle nothing")
	}
}

func TestDispatchIsolatesFailingModules(t *testing.T) {
	host := New()
	err := host.LoadModule("broken", `
		local m = {}
		function m.on_custom(event) error("boom") end
		return m
	`)
	if err != nil {
		t.Fatalf("load broken: %v", err)
	}
	err = host.LoadModule("healthy", `
		local m = {}
		function m.on_custom(event)
			if event.kind ~= "test.kind" or event.seq ~= 3 then
				error("unexpected event")
			end
		end
		return m
	`)
	if err != nil {
		t.Fatalf("load healthy: %v", err)
	}

	called := host.Dispatch("on_custom", map[string]any{"kind": "test.kind", "seq": 3})
	if called != 1 {
		t.Fatalf("expected 1 successful handler, got %d", called)
	}
}

func TestCommandExecutedHookEnqueuesFollowUps(t *testing.T) {
	bus := command.NewBus()
	err := bus.RegisterExecutor("note.add", func(ctx context.Context, cmd command.Command) (any, error) {
		return nil, nil
	})
	if err != nil {
		t.Fatalf("register executor: %v", err)
	}
	echoes := captureKind(t, bus, "note.echo")

	host := New()
	if err := host.Attach(bus); err != nil {
		t.Fatalf("attach: %v", err)
	}
	err = host.LoadModule("echo", `
		local m = {}
		function m.on_command_executed(event)
			if event.kind == "note.add" then
				commands.enqueue("note.echo", { kind = event.kind, seq = event.seq })
			end
		end
		return m
	`)
	if err != nil {
		t.Fatalf("load module: %v", err)
	}

	if _, err := bus.Submit(context.Background(), command.Command{Kind: "note.add", Source: command.SourcePlayer}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if len(*echoes) != 1 {
		t.Fatalf("expected 1 echo, got %d", len(*echoes))
	}
	echo := (*echoes)[0]
	if echo["kind"] != "note.add" {
		t.Fatalf("expected echoed kind, got %v", echo["kind"])
	}
	if echo["seq"] != float64(1) {
		t.Fatalf("expected echoed seq 1, got %v", echo["seq"])
	}

	entries := bus.Journal().Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 journal entries, got %d", len(entries))
	}
	if entries[1].Kind != "note.echo" || entries[1].Source != command.SourceScript {
		t.Fatalf("expected script-sourced echo entry, got %+v", entries[1])
	}
}

func TestTransitionHooksFireExitThenEnter(t *testing.T) {
	fx := newHookFixture(t)
	marks := captureKind(t, fx.bus, "trace.mark")

	err := fx.host.LoadModule("tracer", `
		local m = {}
		function m.on_state_exit(event)
			commands.enqueue("trace.mark", { phase = "exit", state = event.from })
		end
		function m.on_state_enter(event)
			commands.enqueue("trace.mark", { phase = "enter", state = event.to })
		end
		return m
	`)
	if err != nil {
		t.Fatalf("load module: %v", err)
	}

	payload := statemachine.TransitionPayload{
		InstanceID:     fx.inst.ID,
		From:           "idle",
		To:             "patrol",
		TimeInPrevious: 2,
	}
	cmd := command.Command{Kind: statemachine.KindTransition, Payload: payload, Source: command.SourceSystem}
	if _, err := fx.bus.Submit(context.Background(), cmd); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if fx.inst.CurrentState != "patrol" {
		t.Fatalf("expected instance in patrol, got %q", fx.inst.CurrentState)
	}
	if len(*marks) != 2 {
		t.Fatalf("expected exit and enter marks, got %d", len(*marks))
	}
	if (*marks)[0]["phase"] != "exit" || (*marks)[0]["state"] != "idle" {
		t.Fatalf("expected exit from idle first, got %v", (*marks)[0])
	}
	if (*marks)[1]["phase"] != "enter" || (*marks)[1]["state"] != "patrol" {
		t.Fatalf("expected enter to patrol second, got %v", (*marks)[1])
	}
}

func TestResetTransitionSkipsExitHook(t *testing.T) {
	fx := newHookFixture(t)
	marks := captureKind(t, fx.bus, "trace.mark")

	err := fx.host.LoadModule("tracer", `
		local m = {}
		function m.on_state_exit(event)
			commands.enqueue("trace.mark", { phase = "exit" })
		end
		function m.on_state_enter(event)
			commands.enqueue("trace.mark", { phase = "enter", state = event.to })
		end
		return m
	`)
	if err != nil {
		t.Fatalf("load module: %v", err)
	}

	// A reset back to the initial state carries no exited state.
	payload := statemachine.TransitionPayload{InstanceID: fx.inst.ID, To: "idle"}
	cmd := command.Command{Kind: statemachine.KindTransition, Payload: payload, Source: command.SourceSystem}
	if _, err := fx.bus.Submit(context.Background(), cmd); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if len(*marks) != 1 {
		t.Fatalf("expected only the enter mark, got %d", len(*marks))
	}
	if (*marks)[0]["phase"] != "enter" || (*marks)[0]["state"] != "idle" {
		t.Fatalf("expected enter to idle, got %v", (*marks)[0])
	}
}

func TestScriptEnqueueUsesTypedPayloads(t *testing.T) {
	fx := newHookFixture(t)

	err := fx.host.LoadModule("mover", `
		local m = {}
		function m.on_move_request(event)
			commands.enqueue("state.transition", {
				instance_id = event.instance_id,
				from = "idle",
				to = "patrol",
			})
		end
		return m
	`)
	if err != nil {
		t.Fatalf("load module: %v", err)
	}

	if called := fx.host.Dispatch("on_move_request", map[string]any{"instance_id": fx.inst.ID}); called != 1 {
		t.Fatalf("expected 1 handler, got %d", called)
	}
	fx.bus.Drain(context.Background())

	if fx.inst.CurrentState != "patrol" {
		t.Fatalf("expected script-driven transition to patrol, got %q", fx.inst.CurrentState)
	}
	entries := fx.bus.Journal().Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 journal entry, got %d", len(entries))
	}
	if entries[0].Status != command.StatusExecuted || entries[0].Source != command.SourceScript {
		t.Fatalf("expected executed script entry, got %+v", entries[0])
	}
}

func TestLoadDirLoadsLuaModules(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	write("beta.lua", "local m = {}\nfunction m.on_command_executed(event) end\nreturn m")
	write("alpha.lua", "return {}")
	write("readme.txt", "not a script")

	host := New()
	if err := host.LoadDir(dir); err != nil {
		t.Fatalf("load dir: %v", err)
	}

	modules := host.Modules()
	if len(modules) != 2 || modules[0] != "alpha" || modules[1] != "beta" {
		t.Fatalf("expected alpha and beta modules, got %v", modules)
	}
	if !host.Handles("beta", HookCommandExecuted) {
		t.Fatal("expected beta to handle on_command_executed")
	}

	if !host.Unload("alpha") {
		t.Fatal("expected unload to report alpha was loaded")
	}
	if host.Unload("alpha") {
		t.Fatal("expected second unload to report absence")
	}
	if len(host.Modules()) != 1 {
		t.Fatalf("expected one module left, got %v", host.Modules())
	}
}
