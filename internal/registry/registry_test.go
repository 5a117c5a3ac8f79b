package registry

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/hearthwatch/hearthwatch/pkg/plugin"
)

// fakePlugin records lifecycle calls and can be told to fail at any stage.
type fakePlugin struct {
	info plugin.PluginInfo

	mu       sync.Mutex
	events   *[]string
	initErr  error
	startErr error
	stopErr  error
}

func (p *fakePlugin) Info() plugin.PluginInfo { return p.info }

func (p *fakePlugin) record(stage string) {
	if p.events == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	*p.events = append(*p.events, p.info.Name+":"+stage)
}

func (p *fakePlugin) Init(_ context.Context, _ plugin.Dependencies) error {
	p.record("init")
	return p.initErr
}

func (p *fakePlugin) Start(_ context.Context) error {
	p.record("start")
	return p.startErr
}

func (p *fakePlugin) Stop(_ context.Context) error {
	p.record("stop")
	return p.stopErr
}

func newFake(name string, deps []string, required bool, events *[]string) *fakePlugin {
	return &fakePlugin{
		info: plugin.PluginInfo{
			Name:         name,
			Version:      "1.0.0",
			Dependencies: deps,
			Required:     required,
			APIVersion:   plugin.APIVersionCurrent,
		},
		events: events,
	}
}

func noDeps(string) plugin.Dependencies { return plugin.Dependencies{} }

func TestRegistry_RejectsDuplicateAndUnnamed(t *testing.T) {
	r := New(zap.NewNop())

	if err := r.Register(newFake("devices", nil, true, nil)); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(newFake("devices", nil, true, nil)); err == nil {
		t.Error("duplicate registration accepted")
	}
	if err := r.Register(newFake("", nil, false, nil)); err == nil {
		t.Error("empty plugin name accepted")
	}
}

func TestRegistry_LifecycleOrderFollowsDependencies(t *testing.T) {
	var events []string
	r := New(zap.NewNop())

	// incident depends on devices; devices depends on nothing.
	for _, p := range []*fakePlugin{
		newFake("incident", []string{"devices"}, true, &events),
		newFake("devices", nil, true, &events),
	} {
		if err := r.Register(p); err != nil {
			t.Fatalf("register %s: %v", p.info.Name, err)
		}
	}
	if err := r.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	ctx := context.Background()
	if err := r.InitAll(ctx, noDeps); err != nil {
		t.Fatalf("init all: %v", err)
	}
	if err := r.StartAll(ctx); err != nil {
		t.Fatalf("start all: %v", err)
	}
	r.StopAll(ctx)

	want := []string{
		"devices:init", "incident:init",
		"devices:start", "incident:start",
		"incident:stop", "devices:stop",
	}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("events[%d] = %q, want %q", i, events[i], want[i])
		}
	}
}

func TestRegistry_MissingDependency(t *testing.T) {
	r := New(zap.NewNop())
	if err := r.Register(newFake("incident", []string{"devices"}, true, nil)); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Validate(); err == nil {
		t.Error("required plugin with missing dependency validated")
	}

	// An optional plugin with a missing dependency is disabled, not fatal.
	r = New(zap.NewNop())
	if err := r.Register(newFake("mimic", []string{"scout"}, false, nil)); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if _, ok := r.Resolve("mimic"); ok {
		t.Error("disabled plugin still resolvable")
	}
}

func TestRegistry_CascadeDisable(t *testing.T) {
	r := New(zap.NewNop())

	// scout is disabled (missing dep), so mimic must cascade off.
	for _, p := range []*fakePlugin{
		newFake("scout", []string{"nonexistent"}, false, nil),
		newFake("mimic", []string{"scout"}, false, nil),
	} {
		if err := r.Register(p); err != nil {
			t.Fatalf("register %s: %v", p.info.Name, err)
		}
	}
	if err := r.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if got := len(r.All()); got != 0 {
		t.Errorf("active plugins = %d, want 0 after cascade", got)
	}
}

func TestRegistry_DependencyCycle(t *testing.T) {
	r := New(zap.NewNop())
	for _, p := range []*fakePlugin{
		newFake("a", []string{"b"}, true, nil),
		newFake("b", []string{"a"}, true, nil),
	} {
		if err := r.Register(p); err != nil {
			t.Fatalf("register %s: %v", p.info.Name, err)
		}
	}
	if err := r.Validate(); err == nil {
		t.Error("dependency cycle validated")
	}
}

func TestRegistry_APIVersionGate(t *testing.T) {
	r := New(zap.NewNop())
	future := newFake("future", nil, false, nil)
	future.info.APIVersion = plugin.APIVersionCurrent + 1
	if err := r.Register(future); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Validate(); err != nil {
		t.Fatalf("optional incompatible plugin should disable, got %v", err)
	}
	if _, ok := r.Resolve("future"); ok {
		t.Error("incompatible plugin still resolvable")
	}

	r = New(zap.NewNop())
	future = newFake("future", nil, true, nil)
	future.info.APIVersion = plugin.APIVersionCurrent + 1
	if err := r.Register(future); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Validate(); err == nil {
		t.Error("required incompatible plugin validated")
	}
}

func TestRegistry_OptionalInitFailureDisables(t *testing.T) {
	var events []string
	r := New(zap.NewNop())

	broken := newFake("decoy", nil, false, &events)
	broken.initErr = errors.New("no privileged helper")
	healthy := newFake("devices", nil, true, &events)

	for _, p := range []*fakePlugin{broken, healthy} {
		if err := r.Register(p); err != nil {
			t.Fatalf("register %s: %v", p.info.Name, err)
		}
	}
	if err := r.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	ctx := context.Background()
	if err := r.InitAll(ctx, noDeps); err != nil {
		t.Fatalf("optional init failure must not abort: %v", err)
	}
	if _, ok := r.Resolve("decoy"); ok {
		t.Error("failed plugin still resolvable")
	}
	if _, ok := r.Resolve("devices"); !ok {
		t.Error("healthy plugin not resolvable")
	}
}
