package oauth

import (
	"time"

	"github.com/joshp123/flairbridge/internal/config"
)

const DefaultRefreshInterval = 30 * time.Minute

// RefreshInterval returns the background refresh period; negative seconds disable it.
func RefreshInterval(cfg config.OAuthConfig) time.Duration {
	if cfg.RefreshIntervalSeconds < 0 {
		return 0
	}
	if cfg.RefreshIntervalSeconds > 0 {
		return time.Duration(cfg.RefreshIntervalSeconds) * time.Second
	}
	return DefaultRefreshInterval
}
