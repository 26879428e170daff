package jobs

import (
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quarry/internal/models"
	"github.com/ternarybob/quarry/internal/services/runner"
)

// jobReporter publishes run progress onto the live job and records
// process logs for it
type jobReporter struct {
	service *Service
	live    *liveJob
	logger  arbor.ILogger
}

var _ runner.Reporter = (*jobReporter)(nil)

func (r *jobReporter) Progress(p runner.Progress) {
	r.live.mu.Lock()
	defer r.live.mu.Unlock()

	r.live.job.PagesProcessed = p.PagesProcessed
	r.live.job.PagesTotal = p.PagesTotal
	r.live.job.RowsExtracted = p.RowsExtracted
	r.live.job.RowsFailed = p.RowsFailed
	r.live.job.CurrentURL = p.CurrentURL
	if p.Strategy != "" {
		r.live.job.Strategy = string(p.Strategy)
	}
}

func (r *jobReporter) Log(level models.LogLevel, message, url string, rowIndex *int) {
	r.live.mu.RLock()
	jobID := r.live.job.ID
	r.live.mu.RUnlock()

	r.service.appendLog(jobID, level, message, url, rowIndex)

	switch level {
	case models.LogLevelWarn:
		r.logger.Warn().Str("url", url).Msg(message)
	case models.LogLevelError:
		r.logger.Error().Str("url", url).Msg(message)
	default:
		r.logger.Debug().Str("url", url).Msg(message)
	}
}

// apply copies the final counters of a run onto the live job
func (r *jobReporter) apply(outcome *runner.Outcome) {
	if outcome == nil {
		return
	}

	r.live.mu.Lock()
	defer r.live.mu.Unlock()

	r.live.job.PagesProcessed = outcome.PagesProcessed
	r.live.job.PagesTotal = outcome.PagesTotal
	r.live.job.RowsExtracted = outcome.RowsExtracted
	r.live.job.RowsFailed = outcome.RowsFailed
	if outcome.Strategy != "" {
		r.live.job.Strategy = string(outcome.Strategy)
	}
}
