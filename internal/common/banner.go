package common

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/banner"
)

// PrintBanner displays the application banner and the resolved runtime settings
func PrintBanner(config *Config, logger arbor.ILogger) {
	banner.PrintSimple("Quarry", GetVersion())

	logger.Info().
		Str("version", GetFullVersion()).
		Str("environment", config.Environment).
		Str("browser_engine", config.Browser.Engine).
		Str("target_driver", config.Target.Driver).
		Str("scheduler_timezone", config.Scheduler.Timezone).
		Int("max_concurrent_jobs", config.Jobs.MaxConcurrentJobs).
		Msg("Quarry starting")
}
