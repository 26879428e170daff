package runner

import "github.com/ternarybob/quarry/internal/models"

// Progress is a snapshot of run counters
type Progress struct {
	PagesProcessed int
	PagesTotal     int
	RowsExtracted  int
	RowsFailed     int
	CurrentURL     string
	Strategy       models.FetchStrategy
}

// Reporter receives progress snapshots and process log lines from a run.
// Implementations must not block.
type Reporter interface {
	Progress(p Progress)
	Log(level models.LogLevel, message, url string, rowIndex *int)
}

// NopReporter discards everything
type NopReporter struct{}

func (NopReporter) Progress(Progress) {}

func (NopReporter) Log(models.LogLevel, string, string, *int) {}
