package pipeline

import "time"

// RepoRunResult records the outcome of processing one planned repository.
// It is appended to the run aggregate once and never mutated afterwards.
type RepoRunResult struct {
	RepositoryName    string
	WorkspaceSlug     string
	DestinationName   string
	SkippedExisting   bool
	Success           bool
	ArchivePath       string
	ArchiveSizeBytes  int64
	MetadataItemCount int
	Errors            []string
}

// RunStatistics aggregates one invocation. The orchestrator owns it
// exclusively while the run is in flight and freezes it at run end.
type RunStatistics struct {
	StartedAt         time.Time
	FinishedAt        time.Time
	TotalCount        int
	SuccessCount      int
	FailureCount      int
	TotalArchiveBytes int64
	RepositoryResults []RepoRunResult
	RunErrors         []string
}

// FullySuccessful reports whether every planned repository succeeded. A run
// that processed nothing is not successful.
func (statistics RunStatistics) FullySuccessful() bool {
	return statistics.TotalCount > 0 &&
		statistics.SuccessCount == statistics.TotalCount &&
		len(statistics.RunErrors) == 0
}

// Duration is the wall-clock span of the run.
func (statistics RunStatistics) Duration() time.Duration {
	return statistics.FinishedAt.Sub(statistics.StartedAt)
}
