package actors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	extism "github.com/extism/go-sdk"
)

// wasmActor owns one Extism plugin instance and calls a single export on it.
type wasmActor struct {
	mu     sync.Mutex
	plugin *extism.Plugin
	fn     string
}

// WasmManifest builds the Extism manifest for a wasm actor. Host access is
// denied unless allowed_hosts is set.
func WasmManifest(path string, config map[string]string, allowedHosts []string) extism.Manifest {
	m := extism.Manifest{
		Wasm:   []extism.Wasm{extism.WasmFile{Path: path}},
		Config: config,
	}
	if len(allowedHosts) > 0 {
		m.AllowedHosts = allowedHosts
	}
	return m
}

func buildWasm(params Params) (Factory, error) {
	path, err := params.String("path", "")
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, errors.New("wasm: param \"path\" is required")
	}
	fn, err := params.String("function", "consume")
	if err != nil {
		return nil, err
	}
	config, err := params.StringMap("config")
	if err != nil {
		return nil, err
	}
	host, err := params.String("allowed_host", "")
	if err != nil {
		return nil, err
	}
	var hosts []string
	if host != "" {
		hosts = []string{host}
	}

	manifest := WasmManifest(path, config, hosts)
	return func(ctx context.Context) (Actor, error) {
		plugin, err := extism.NewPlugin(ctx, manifest, extism.PluginConfig{EnableWasi: true}, nil)
		if err != nil {
			return nil, fmt.Errorf("wasm: load %s: %w", path, err)
		}
		if !plugin.FunctionExists(fn) {
			plugin.Close(ctx)
			return nil, fmt.Errorf("wasm: %s does not export %q", path, fn)
		}
		slog.Debug("wasm actor loaded", "path", path, "function", fn)
		return &wasmActor{plugin: plugin, fn: fn}, nil
	}, nil
}

// Consume passes the JSON-encoded argument to the export and returns its
// output as a string.
func (a *wasmActor) Consume(_ context.Context, argument any) (any, error) {
	input, err := json.Marshal(argument)
	if err != nil {
		return nil, fmt.Errorf("wasm: encode argument: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.plugin == nil {
		return nil, fmt.Errorf("wasm: plugin closed: %w", ErrBroken)
	}

	code, out, err := a.plugin.Call(a.fn, input)
	if err != nil {
		return nil, fmt.Errorf("wasm: call %s (exit %d): %w", a.fn, code, err)
	}
	return string(out), nil
}

func (a *wasmActor) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.plugin == nil {
		return nil
	}
	err := a.plugin.Close(ctx)
	a.plugin = nil
	return err
}
