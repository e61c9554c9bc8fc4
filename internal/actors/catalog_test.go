package actors

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func build(t *testing.T, c *Catalog, kind string, params Params) Actor {
	t.Helper()
	f, err := c.Build(kind, params)
	if err != nil {
		t.Fatalf("Build(%s): %v", kind, err)
	}
	a, err := f(context.Background())
	if err != nil {
		t.Fatalf("factory(%s): %v", kind, err)
	}
	t.Cleanup(func() { _ = a.Stop(context.Background()) })
	return a
}

func TestCatalogKinds(t *testing.T) {
	c := NewCatalog()
	want := []string{"echo", "shell", "wasm"}
	got := c.Kinds()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Kinds() = %v, want %v", got, want)
	}
	if !c.Has("echo") || c.Has("telepathy") {
		t.Error("Has() mismatch")
	}
	if _, err := c.Build("telepathy", nil); err == nil {
		t.Error("expected error for unknown kind")
	}

	c.Register("custom", func(Params) (Factory, error) { return FactoryOf(Func(nil)), nil })
	if !c.Has("custom") {
		t.Error("custom kind not registered")
	}
}

func TestEchoActor(t *testing.T) {
	a := build(t, NewCatalog(), "echo", Params{"prefix": "got ", "fail_on": "bad"})

	out, err := a.Consume(context.Background(), "thing")
	if err != nil || out != "got thing" {
		t.Errorf("Consume = %v, %v", out, err)
	}
	out, err = a.Consume(context.Background(), 42)
	if err != nil || out != "got 42" {
		t.Errorf("Consume(42) = %v, %v", out, err)
	}
	if _, err := a.Consume(context.Background(), "bad"); !errors.Is(err, ErrRejected) {
		t.Errorf("expected ErrRejected, got %v", err)
	}
}

func TestEchoActorDelayHonoursContext(t *testing.T) {
	a := build(t, NewCatalog(), "echo", Params{"delay": "1h"})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := a.Consume(ctx, "x"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline error, got %v", err)
	}
}

func TestParams(t *testing.T) {
	p := Params{
		"name":    "n",
		"count":   3,
		"env":     map[string]any{"A": "1", "B": 2},
		"timeout": "250ms",
		"bogus":   "soon",
	}

	if s, err := p.String("name", "x"); err != nil || s != "n" {
		t.Errorf("String(name) = %q, %v", s, err)
	}
	if s, err := p.String("missing", "def"); err != nil || s != "def" {
		t.Errorf("String(missing) = %q, %v", s, err)
	}
	if _, err := p.String("count", ""); err == nil {
		t.Error("expected type error for count")
	}
	m, err := p.StringMap("env")
	if err != nil || m["A"] != "1" || m["B"] != "2" {
		t.Errorf("StringMap(env) = %v, %v", m, err)
	}
	if _, err := p.StringMap("name"); err == nil {
		t.Error("expected type error for name as mapping")
	}
	if d, err := p.Duration("timeout"); err != nil || d != 250*time.Millisecond {
		t.Errorf("Duration(timeout) = %v, %v", d, err)
	}
	if _, err := p.Duration("bogus"); err == nil {
		t.Error("expected parse error for bogus duration")
	}
	if d, err := p.Duration("missing"); err != nil || d != 0 {
		t.Errorf("Duration(missing) = %v, %v", d, err)
	}
}

func TestEchoBuildRejectsBadParams(t *testing.T) {
	if _, err := NewCatalog().Build("echo", Params{"prefix": 12}); err == nil {
		t.Error("expected error for non-string prefix")
	}
}

func TestShellActor(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix shell semantics")
	}
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "in.txt"), []byte("payload\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	a := build(t, NewCatalog(), "shell", Params{
		"dir":         dir,
		"inherit_env": "false",
		"env":         map[string]any{"GREETING": "hello"},
	})
	ctx := context.Background()

	out, err := a.Consume(ctx, `read line < in.txt; echo "$GREETING $line"`)
	if err != nil || out != "hello payload" {
		t.Errorf("Consume = %q, %v", out, err)
	}

	_, err = a.Consume(ctx, `echo oops >&2; exit 3`)
	if err == nil || !strings.Contains(err.Error(), "exit status 3") || !strings.Contains(err.Error(), "oops") {
		t.Errorf("expected exit status error with stderr, got %v", err)
	}

	if _, err := a.Consume(ctx, `if then fi`); err == nil || !strings.Contains(err.Error(), "parse") {
		t.Errorf("expected parse error, got %v", err)
	}
	if _, err := a.Consume(ctx, 7); err == nil {
		t.Error("expected error for non-string argument")
	}
}

func TestWasmActorRequiresPath(t *testing.T) {
	if _, err := NewCatalog().Build("wasm", Params{}); err == nil {
		t.Error("expected error without path")
	}
}

func TestWasmManifest(t *testing.T) {
	m := WasmManifest("/plugins/resize.wasm", map[string]string{"quality": "80"}, nil)
	if len(m.Wasm) != 1 || m.Config["quality"] != "80" {
		t.Errorf("manifest = %+v", m)
	}
	if len(m.AllowedHosts) != 0 {
		t.Errorf("hosts should be denied by default: %v", m.AllowedHosts)
	}
	m = WasmManifest("/plugins/resize.wasm", nil, []string{"cdn.example.com"})
	if len(m.AllowedHosts) != 1 {
		t.Errorf("AllowedHosts = %v", m.AllowedHosts)
	}
}

func TestWasmActorMissingModule(t *testing.T) {
	f, err := NewCatalog().Build("wasm", Params{"path": filepath.Join(t.TempDir(), "missing.wasm")})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, err := f(context.Background()); err == nil {
		t.Error("expected spawn error for missing module")
	}
}
