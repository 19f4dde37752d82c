package plugins

import (
	"github.com/joshp123/flairbridge/internal/core"
	"github.com/joshp123/flairbridge/plugins/flair"
)

func init() {
	Register(func(env Env) (core.Plugin, bool) {
		var health flair.HealthReporter
		if env.Health != nil {
			health = env.Health
		}
		return flair.NewPlugin(env.Log, env.Config, env.Host, health), true
	})
}
