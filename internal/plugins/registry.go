package plugins

import (
	"github.com/go-logr/logr"

	"github.com/joshp123/flairbridge/internal/config"
	"github.com/joshp123/flairbridge/internal/core"
	"github.com/joshp123/flairbridge/internal/host"
)

// Env is what a plugin factory may depend on.
type Env struct {
	Log    logr.Logger
	Config *config.Config
	Host   *host.Host
	Health *core.HealthRegistry
}

// Factory builds a plugin instance from the loaded config.
type Factory func(Env) (core.Plugin, bool)

var compiled []Factory

// Register adds a compiled-in plugin factory to the registry.
func Register(factory Factory) {
	compiled = append(compiled, factory)
}

// Compiled returns the configured plugin instances for this build.
func Compiled(env Env) []core.Plugin {
	if env.Config == nil {
		return nil
	}
	out := make([]core.Plugin, 0, len(compiled))
	for _, factory := range compiled {
		plugin, ok := factory(env)
		if !ok {
			continue
		}
		out = append(out, plugin)
	}
	return out
}
