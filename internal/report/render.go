package report

import (
	"fmt"
	"html/template"
	"strings"

	"go.uber.org/zap"

	"github.com/temirov/bbmigrate/internal/pipeline"
)

const (
	errorListCapConstant               = 10
	truncationMarkerTemplateConstant   = "...and %d more"
	bytesPerMegabyteConstant           = 1024 * 1024
	reportTimestampLayoutConstant      = "2006-01-02 15:04:05"
	successMarkerConstant              = "OK"
	failureMarkerConstant              = "FAILED"
	skippedExistingMarkerConstant      = " (existing, skipped creation)"
	logMessageRunSummaryConstant       = "run summary"
	logFieldTotalCountConstant         = "total_count"
	logFieldSuccessCountConstant       = "success_count"
	logFieldFailureCountConstant       = "failure_count"
	logFieldSuccessRateConstant        = "success_rate_percent"
	logFieldTotalArchiveBytesConstant  = "total_archive_bytes"
	logFieldDurationSecondsConstant    = "duration_seconds"
)

// SuccessRatePercent computes the success percentage, guarding the
// zero-repository case.
func SuccessRatePercent(statistics pipeline.RunStatistics) float64 {
	if statistics.TotalCount == 0 {
		return 0
	}
	return float64(statistics.SuccessCount) / float64(statistics.TotalCount) * 100
}

// BoundedErrors flattens run-level and per-repository errors into one ordered
// list capped at ten entries, appending an explicit truncation marker when
// entries were dropped.
func BoundedErrors(statistics pipeline.RunStatistics) []string {
	var allErrors []string
	allErrors = append(allErrors, statistics.RunErrors...)
	for _, repositoryResult := range statistics.RepositoryResults {
		for _, repositoryError := range repositoryResult.Errors {
			allErrors = append(allErrors, fmt.Sprintf("%s: %s", repositoryResult.RepositoryName, repositoryError))
		}
	}

	if len(allErrors) <= errorListCapConstant {
		return allErrors
	}
	bounded := append([]string{}, allErrors[:errorListCapConstant]...)
	return append(bounded, fmt.Sprintf(truncationMarkerTemplateConstant, len(allErrors)-errorListCapConstant))
}

// RenderText renders the plain-text report.
func RenderText(statistics pipeline.RunStatistics) string {
	var reportBuilder strings.Builder

	reportBuilder.WriteString("Repository Migration Report\n")
	reportBuilder.WriteString("===========================\n\n")
	reportBuilder.WriteString(fmt.Sprintf("Started:   %s\n", statistics.StartedAt.Format(reportTimestampLayoutConstant)))
	reportBuilder.WriteString(fmt.Sprintf("Finished:  %s\n", statistics.FinishedAt.Format(reportTimestampLayoutConstant)))
	reportBuilder.WriteString(fmt.Sprintf("Duration:  %s\n\n", statistics.Duration().Round(1e9)))
	reportBuilder.WriteString(fmt.Sprintf("Repositories: %d total, %d succeeded, %d failed (%.1f%% success)\n", statistics.TotalCount, statistics.SuccessCount, statistics.FailureCount, SuccessRatePercent(statistics)))
	reportBuilder.WriteString(fmt.Sprintf("Archived:     %d MB\n\n", statistics.TotalArchiveBytes/bytesPerMegabyteConstant))

	if len(statistics.RepositoryResults) > 0 {
		reportBuilder.WriteString("Per repository:\n")
		for _, repositoryResult := range statistics.RepositoryResults {
			statusMarker := successMarkerConstant
			if !repositoryResult.Success {
				statusMarker = failureMarkerConstant
			}
			suffix := ""
			if repositoryResult.SkippedExisting {
				suffix = skippedExistingMarkerConstant
			}
			reportBuilder.WriteString(fmt.Sprintf("  [%s] %s/%s (%d metadata items)%s\n", statusMarker, repositoryResult.WorkspaceSlug, repositoryResult.RepositoryName, repositoryResult.MetadataItemCount, suffix))
		}
		reportBuilder.WriteString("\n")
	}

	boundedErrors := BoundedErrors(statistics)
	if len(boundedErrors) > 0 {
		reportBuilder.WriteString("Errors:\n")
		for _, errorLine := range boundedErrors {
			reportBuilder.WriteString("  - " + errorLine + "\n")
		}
	}

	return reportBuilder.String()
}

var htmlReportTemplate = template.Must(template.New("report").Parse(`<html>
<head><title>Repository Migration Report</title></head>
<body>
<h1>Repository Migration Report</h1>
<p>Started {{.Started}}, finished {{.Finished}} ({{.Duration}}).</p>
<p>{{.TotalCount}} repositories: {{.SuccessCount}} succeeded, {{.FailureCount}} failed ({{printf "%.1f" .SuccessRate}}% success). {{.ArchivedMB}} MB archived.</p>
<table border="1">
<tr><th>Status</th><th>Workspace</th><th>Repository</th><th>Metadata items</th></tr>
{{range .Repositories}}<tr><td>{{.Status}}</td><td>{{.WorkspaceSlug}}</td><td>{{.RepositoryName}}</td><td>{{.MetadataItemCount}}</td></tr>
{{end}}</table>
{{if .Errors}}<h2>Errors</h2><ul>{{range .Errors}}<li>{{.}}</li>{{end}}</ul>{{end}}
</body>
</html>
`))

type htmlRepositoryRow struct {
	Status            string
	WorkspaceSlug     string
	RepositoryName    string
	MetadataItemCount int
}

type htmlReportData struct {
	Started      string
	Finished     string
	Duration     string
	TotalCount   int
	SuccessCount int
	FailureCount int
	SuccessRate  float64
	ArchivedMB   int64
	Repositories []htmlRepositoryRow
	Errors       []string
}

// RenderHTML renders the HTML report.
func RenderHTML(statistics pipeline.RunStatistics) string {
	reportData := htmlReportData{
		Started:      statistics.StartedAt.Format(reportTimestampLayoutConstant),
		Finished:     statistics.FinishedAt.Format(reportTimestampLayoutConstant),
		Duration:     statistics.Duration().String(),
		TotalCount:   statistics.TotalCount,
		SuccessCount: statistics.SuccessCount,
		FailureCount: statistics.FailureCount,
		SuccessRate:  SuccessRatePercent(statistics),
		ArchivedMB:   statistics.TotalArchiveBytes / bytesPerMegabyteConstant,
		Errors:       BoundedErrors(statistics),
	}
	for _, repositoryResult := range statistics.RepositoryResults {
		statusMarker := successMarkerConstant
		if !repositoryResult.Success {
			statusMarker = failureMarkerConstant
		}
		reportData.Repositories = append(reportData.Repositories, htmlRepositoryRow{
			Status:            statusMarker,
			WorkspaceSlug:     repositoryResult.WorkspaceSlug,
			RepositoryName:    repositoryResult.RepositoryName,
			MetadataItemCount: repositoryResult.MetadataItemCount,
		})
	}

	var renderedReport strings.Builder
	if executeError := htmlReportTemplate.Execute(&renderedReport, reportData); executeError != nil {
		return RenderText(statistics)
	}
	return renderedReport.String()
}

// LogSummary emits the run summary as structured fields.
func LogSummary(logger *zap.Logger, statistics pipeline.RunStatistics) {
	if logger == nil {
		return
	}
	logger.Info(
		logMessageRunSummaryConstant,
		zap.Int(logFieldTotalCountConstant, statistics.TotalCount),
		zap.Int(logFieldSuccessCountConstant, statistics.SuccessCount),
		zap.Int(logFieldFailureCountConstant, statistics.FailureCount),
		zap.Float64(logFieldSuccessRateConstant, SuccessRatePercent(statistics)),
		zap.Int64(logFieldTotalArchiveBytesConstant, statistics.TotalArchiveBytes),
		zap.Float64(logFieldDurationSecondsConstant, statistics.Duration().Seconds()),
	)
}
