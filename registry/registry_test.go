package registry_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apcerrors "github.com/aipartnerup/apcore-go/errors"
	"github.com/aipartnerup/apcore-go/invocation"
	"github.com/aipartnerup/apcore-go/module"
	"github.com/aipartnerup/apcore-go/registry"
)

type stubModule struct {
	id   string
	tags []string
	deps []string
}

func (s *stubModule) ID() string { return s.id }
func (s *stubModule) Descriptor() module.Descriptor {
	return module.Descriptor{ModuleID: s.id, Name: s.id, Tags: s.tags}
}
func (s *stubModule) InputSchema() module.Validator  { return nil }
func (s *stubModule) OutputSchema() module.Validator { return nil }
func (s *stubModule) Execute(ctx context.Context, ictx *invocation.Context, inputs map[string]any) (map[string]any, error) {
	return inputs, nil
}
func (s *stubModule) Dependencies() []string {
	return s.deps
}

type lifecycleModule struct {
	stubModule
	load     func() error
	loaded   bool
	unloaded bool
}

func (l *lifecycleModule) OnLoad(ctx context.Context) error {
	if l.load != nil {
		return l.load()
	}
	l.loaded = true
	return nil
}
func (l *lifecycleModule) OnUnload(ctx context.Context) error {
	l.unloaded = true
	return nil
}

func TestRegisterAndGet(t *testing.T) {
	r := registry.New(nil)
	mod := &stubModule{id: "math.add"}
	require.NoError(t, r.Register(context.Background(), mod))

	got, err := r.Get("math.add")
	require.NoError(t, err)
	assert.Equal(t, mod, got)
	assert.True(t, r.Has("math.add"))
	assert.Equal(t, 1, r.Count())
}

func TestRegisterRejectsEmptyID(t *testing.T) {
	r := registry.New(nil)
	err := r.Register(context.Background(), &stubModule{id: ""})
	require.Error(t, err)
	assert.True(t, apcerrors.Is(err, apcerrors.CodeGeneralInvalidInput))
}

func TestRegisterDuplicateFails(t *testing.T) {
	r := registry.New(nil)
	require.NoError(t, r.Register(context.Background(), &stubModule{id: "math.add"}))
	err := r.Register(context.Background(), &stubModule{id: "math.add"})
	require.Error(t, err)
	assert.True(t, apcerrors.Is(err, apcerrors.CodeModuleLoadError))
}

func TestRegisterRunsOnLoad(t *testing.T) {
	r := registry.New(nil)
	mod := &lifecycleModule{stubModule: stubModule{id: "math.add"}}
	require.NoError(t, r.Register(context.Background(), mod))
	assert.True(t, mod.loaded)
}

func TestRegisterRollsBackOnFailingOnLoad(t *testing.T) {
	r := registry.New(nil)
	mod := &lifecycleModule{stubModule: stubModule{id: "math.add"}}
	mod.load = func() error { return errors.New("boom") }

	err := r.Register(context.Background(), mod)
	require.Error(t, err)
	assert.True(t, apcerrors.Is(err, apcerrors.CodeModuleLoadError))
	assert.False(t, r.Has("math.add"))
}

func TestGetMissingReturnsModuleNotFound(t *testing.T) {
	r := registry.New(nil)
	_, err := r.Get("missing")
	require.Error(t, err)
	assert.True(t, apcerrors.Is(err, apcerrors.CodeModuleNotFound))
}

func TestUnregisterCallsOnUnload(t *testing.T) {
	r := registry.New(nil)
	mod := &lifecycleModule{stubModule: stubModule{id: "math.add"}}
	require.NoError(t, r.Register(context.Background(), mod))

	require.NoError(t, r.Unregister(context.Background(), "math.add"))
	assert.True(t, mod.unloaded)
	assert.False(t, r.Has("math.add"))
}

func TestListAndModuleIDsSorted(t *testing.T) {
	r := registry.New(nil)
	require.NoError(t, r.Register(context.Background(), &stubModule{id: "z"}))
	require.NoError(t, r.Register(context.Background(), &stubModule{id: "a"}))

	assert.Equal(t, []string{"a", "z"}, r.ModuleIDs())
	list := r.List(nil, "")
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID())
}

func TestListFiltersByPrefix(t *testing.T) {
	r := registry.New(nil)
	require.NoError(t, r.Register(context.Background(), &stubModule{id: "math.add"}))
	require.NoError(t, r.Register(context.Background(), &stubModule{id: "util.echo"}))

	list := r.List(nil, "math.")
	require.Len(t, list, 1)
	assert.Equal(t, "math.add", list[0].ID())
}

func TestListFiltersByTagIntersection(t *testing.T) {
	r := registry.New(nil)
	require.NoError(t, r.Register(context.Background(), &stubModule{id: "math.add", tags: []string{"arithmetic", "pure"}}))
	require.NoError(t, r.Register(context.Background(), &stubModule{id: "util.echo", tags: []string{"util"}}))

	list := r.List([]string{"arithmetic"}, "")
	require.Len(t, list, 1)
	assert.Equal(t, "math.add", list[0].ID())

	assert.Empty(t, r.List([]string{"arithmetic", "util"}, ""))
}

func TestListFiltersByMergedMetadataTags(t *testing.T) {
	r := registry.New(nil)
	require.NoError(t, r.Register(context.Background(), &stubModule{id: "math.add"}))
	r.AttachMetadata("math.add", registry.ModuleMetadata{ModuleID: "math.add", Tags: []string{"arithmetic"}})

	list := r.List([]string{"arithmetic"}, "")
	require.Len(t, list, 1)
	assert.Equal(t, "math.add", list[0].ID())
}

func TestLoadOrderRespectsDependencies(t *testing.T) {
	r := registry.New(nil)
	require.NoError(t, r.Register(context.Background(), &stubModule{id: "c", deps: []string{"b"}}))
	require.NoError(t, r.Register(context.Background(), &stubModule{id: "b", deps: []string{"a"}}))
	require.NoError(t, r.Register(context.Background(), &stubModule{id: "a"}))

	order, err := r.LoadOrder()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestLoadOrderDetectsCycle(t *testing.T) {
	r := registry.New(nil)
	require.NoError(t, r.Register(context.Background(), &stubModule{id: "a", deps: []string{"b"}}))
	require.NoError(t, r.Register(context.Background(), &stubModule{id: "b", deps: []string{"a"}}))

	_, err := r.LoadOrder()
	require.Error(t, err)
	assert.True(t, apcerrors.Is(err, apcerrors.CodeCircularDependency))
}

func TestOnEventFiresForRegisterAndUnregister(t *testing.T) {
	r := registry.New(nil)
	var events []string
	var mu sync.Mutex
	require.NoError(t, r.On(registry.EventRegister, func(kind registry.EventKind, moduleID string) {
		mu.Lock()
		events = append(events, string(kind)+":"+moduleID)
		mu.Unlock()
	}))
	require.NoError(t, r.On(registry.EventUnregister, func(kind registry.EventKind, moduleID string) {
		mu.Lock()
		events = append(events, string(kind)+":"+moduleID)
		mu.Unlock()
	}))

	require.NoError(t, r.Register(context.Background(), &stubModule{id: "a"}))
	require.NoError(t, r.Unregister(context.Background(), "a"))

	assert.Equal(t, []string{"register:a", "unregister:a"}, events)
}

func TestOnRejectsInvalidEventName(t *testing.T) {
	r := registry.New(nil)
	err := r.On(registry.EventKind("loaded"), func(registry.EventKind, string) {})
	require.Error(t, err)
	assert.True(t, apcerrors.Is(err, apcerrors.CodeGeneralInvalidInput))
}

func TestIterStopsEarly(t *testing.T) {
	r := registry.New(nil)
	require.NoError(t, r.Register(context.Background(), &stubModule{id: "a"}))
	require.NoError(t, r.Register(context.Background(), &stubModule{id: "b"}))

	var seen []string
	r.Iter(func(m module.Module) bool {
		seen = append(seen, m.ID())
		return false
	})
	assert.Equal(t, []string{"a"}, seen)
}

func TestConcurrentRegisterAndRead(t *testing.T) {
	r := registry.New(nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		id := filepath.Join("mod", string(rune('a'+i%26)))
		wg.Add(2)
		go func(id string) {
			defer wg.Done()
			_ = r.Register(context.Background(), &stubModule{id: id})
		}(id)
		go func() {
			defer wg.Done()
			r.ModuleIDs()
		}()
	}
	wg.Wait()
}

func TestDiscoverFindsMetadataFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "add.module.yaml"), []byte(`
module_id: math.add
tags: ["arithmetic"]
documentation: "Adds two numbers."
`), 0o644))

	found, err := registry.Discover(dir, nil)
	require.NoError(t, err)
	require.Contains(t, found.ByModuleID, "math.add")
	assert.Equal(t, []string{"arithmetic"}, found.ByModuleID["math.add"].Tags)
	assert.Empty(t, found.Warnings)
}

func TestDiscoverAppliesIDMap(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "add.module.yaml"), []byte(`
module_id: add
`), 0o644))

	idMap := registry.IDMap{"add": "math.add"}
	found, err := registry.Discover(dir, idMap)
	require.NoError(t, err)
	assert.Contains(t, found.ByModuleID, "math.add")
	assert.NotContains(t, found.ByModuleID, "add")
}

func TestDiscoverWarnsOnDuplicateID(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "one.module.yaml"), []byte("module_id: math.add\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "two.module.yaml"), []byte("module_id: math.add\n"), 0o644))

	found, err := registry.Discover(dir, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, found.Warnings)
}

func TestScanMultiRootMergesAcrossRoots(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dirA, "a.module.yaml"), []byte("module_id: a.mod\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dirB, "b.module.yaml"), []byte("module_id: b.mod\n"), 0o644))

	found, err := registry.ScanMultiRoot(map[string]registry.IDMap{dirA: nil, dirB: nil})
	require.NoError(t, err)
	assert.Contains(t, found.ByModuleID, "a.mod")
	assert.Contains(t, found.ByModuleID, "b.mod")
}
