// Package embedserver implements the long-lived embedding daemon and its
// local unix-socket protocol: one model held warm per process, requests
// answered sequentially behind a bounded queue, every client call
// timeout-bound.
package embedserver

import (
	"fmt"
	"os"
	"sort"

	"github.com/grovekb/grove/internal/apperr"
)

// ModelInfo describes one supported embedding model alias.
type ModelInfo struct {
	Alias      string
	Runtime    string // model identity in the local model runtime
	Dimensions int
	Footprint  string // approximate resource footprint, informational
}

// registry is the fixed, versioned table of supported aliases. The lite
// provider is handled client-side and intentionally absent: it needs no
// daemon.
var registry = map[string]ModelInfo{
	"minilm":    {Alias: "minilm", Runtime: "all-minilm", Dimensions: 384, Footprint: "~46MB"},
	"nomic":     {Alias: "nomic", Runtime: "nomic-embed-text", Dimensions: 768, Footprint: "~274MB"},
	"mxbai":     {Alias: "mxbai", Runtime: "mxbai-embed-large", Dimensions: 1024, Footprint: "~670MB"},
	"snowflake": {Alias: "snowflake", Runtime: "snowflake-arctic-embed", Dimensions: 1024, Footprint: "~670MB"},
}

// DefaultModel is the alias used when nothing is configured.
const DefaultModel = "nomic"

// ResolveModel looks an alias up in the registry.
func ResolveModel(alias string) (ModelInfo, error) {
	info, ok := registry[alias]
	if !ok {
		return ModelInfo{}, fmt.Errorf("%w: unsupported model alias %q", apperr.ErrServerStartFailure, alias)
	}
	return info, nil
}

// Models returns the registry entries sorted by alias for display.
func Models() []ModelInfo {
	out := make([]ModelInfo, 0, len(registry))
	for _, m := range registry {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Alias < out[j].Alias })
	return out
}

// SocketPath returns the daemon's unix socket path, honoring the
// GROVE_EMBED_SOCKET override.
func SocketPath() string {
	if p := os.Getenv("GROVE_EMBED_SOCKET"); p != "" {
		return p
	}
	return "/tmp/grove-embedder.sock"
}

// PIDPath returns the daemon's pid file path, derived from the socket path
// so overridden sockets get their own pid file.
func PIDPath() string {
	return SocketPath() + ".pid"
}
