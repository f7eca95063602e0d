package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"wheeld/internal/config"
	"wheeld/internal/jobs"
)

// validateConfig rejects a config before it is committed, both at startup
// and on hot reload.
func validateConfig(_ context.Context, cfg *config.Config) error {
	if cfg.Logging.MaxPerSec < 0 {
		return fmt.Errorf("logging.max_per_sec must be >= 0")
	}
	if _, err := mapWheelConfig(cfg); err != nil {
		return err
	}
	if _, err := mapTaskEngineConfig(cfg); err != nil {
		return err
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapPprofConfig(cfg); err != nil {
		return err
	}
	return jobs.Validate(cfg.Jobs)
}
