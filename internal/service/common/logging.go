//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"github.com/oshokin/alarm-pipeline/internal/config"
	"github.com/oshokin/alarm-pipeline/internal/logger"
)

// ApplyLogLevel sets the global level from override, or from the config when
// override is empty.
func ApplyLogLevel(cfg *config.Config, override string) error {
	level := override
	if level == "" && cfg != nil {
		level = cfg.LogLevel
	}

	if level == "" {
		return nil
	}

	return logger.SetLevelName(level)
}
