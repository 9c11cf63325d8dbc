package app

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/temirov/bbmigrate/internal/config"
	"github.com/temirov/bbmigrate/internal/report"
	"github.com/temirov/bbmigrate/internal/verify"
)

const (
	runCommandUseConstant                 = "run"
	runCommandShortDescriptionConstant    = "Back up and migrate every planned repository"
	runCommandLongDescriptionConstant     = "run discovers the configured workspaces, reconciles them against the destination, and drives the full backup and migration pipeline over every planned repository."
	planCommandUseConstant                = "plan"
	planCommandShortDescriptionConstant   = "Show the migration plan without touching any repository"
	planCommandLongDescriptionConstant    = "plan performs discovery, filtering, and destination reconciliation, then prints the per-repository actions a run would take. No repository is cloned, created, or pushed."
	verifyCommandUseConstant              = "verify"
	verifyCommandShortDescriptionConstant = "Check configuration and live account access"
	verifyCommandLongDescriptionConstant  = "verify validates the configuration and confirms both accounts can authenticate and reach their configured workspaces before a run is attempted."

	missingLoggerProviderMessageConstant   = "logger provider not configured"
	missingSettingsProviderMessageConstant = "settings provider not configured"
	runFailedMessageConstant               = "run completed with failures"
	verifyFailedMessageConstant            = "verification failed"
	htmlReportFileNameConstant             = "report.html"
	htmlReportWriteWarnMessageConstant     = "unable to write HTML report"
	logFieldReportPathConstant             = "report_path"
	logsDirectoryNameConstant              = "logs"
	reportFilePermissionsConstant          = 0o644
	logsDirectoryPermissionsConstant       = 0o755

	planHeaderTemplateConstant     = "Plan: %d workspace(s), %d repositories\n"
	planEntryTemplateConstant      = "  [%s] %s/%s -> %s\n"
	planNoDestinationValueConstant = "(local backup)"

	verifyConfigurationTemplateConstant = "configuration: INVALID: %v\n"
	verifyAccountTemplateConstant       = "%s account: %s\n"
	verifyAccountOKValueConstant        = "OK"
	verifyAccountFailedValueConstant    = "FAILED"
	verifyProblemTemplateConstant       = "  - %s\n"
	verifyPassedLineConstant            = "All checks passed.\n"
)

// RunCommandBuilder assembles the run subcommand.
type RunCommandBuilder struct {
	LoggerProvider   func() *zap.Logger
	SettingsProvider func() config.Settings
	Application      *Application
	OutputWriter     io.Writer
}

// Build constructs the run command.
func (builder *RunCommandBuilder) Build() (*cobra.Command, error) {
	if builder.LoggerProvider == nil {
		return nil, errors.New(missingLoggerProviderMessageConstant)
	}
	if builder.SettingsProvider == nil {
		return nil, errors.New(missingSettingsProviderMessageConstant)
	}

	command := &cobra.Command{
		Use:   runCommandUseConstant,
		Short: runCommandShortDescriptionConstant,
		Long:  runCommandLongDescriptionConstant,
		RunE: func(command *cobra.Command, _ []string) error {
			logger := builder.LoggerProvider()
			settings := builder.SettingsProvider()
			application := builder.application(logger)

			statistics, runError := application.ExecuteRun(command.Context(), settings)
			if runError != nil {
				return runError
			}

			outputWriter := builder.outputWriter()
			fmt.Fprint(outputWriter, report.RenderText(statistics))
			report.LogSummary(logger, statistics)

			logsDirectory := filepath.Join(settings.BackupBaseDirectory, logsDirectoryNameConstant)
			htmlReportPath := filepath.Join(logsDirectory, htmlReportFileNameConstant)
			if mkdirError := os.MkdirAll(logsDirectory, logsDirectoryPermissionsConstant); mkdirError != nil {
				logger.Warn(htmlReportWriteWarnMessageConstant, zap.String(logFieldReportPathConstant, htmlReportPath), zap.Error(mkdirError))
			} else if writeError := os.WriteFile(htmlReportPath, []byte(report.RenderHTML(statistics)), reportFilePermissionsConstant); writeError != nil {
				logger.Warn(htmlReportWriteWarnMessageConstant, zap.String(logFieldReportPathConstant, htmlReportPath), zap.Error(writeError))
			}

			if !statistics.FullySuccessful() {
				return errors.New(runFailedMessageConstant)
			}
			return nil
		},
	}

	return command, nil
}

func (builder *RunCommandBuilder) application(logger *zap.Logger) *Application {
	if builder.Application != nil {
		return builder.Application
	}
	return NewApplication(logger)
}

func (builder *RunCommandBuilder) outputWriter() io.Writer {
	if builder.OutputWriter != nil {
		return builder.OutputWriter
	}
	return os.Stdout
}

// PlanCommandBuilder assembles the plan subcommand.
type PlanCommandBuilder struct {
	LoggerProvider   func() *zap.Logger
	SettingsProvider func() config.Settings
	Application      *Application
	OutputWriter     io.Writer
}

// Build constructs the plan command.
func (builder *PlanCommandBuilder) Build() (*cobra.Command, error) {
	if builder.LoggerProvider == nil {
		return nil, errors.New(missingLoggerProviderMessageConstant)
	}
	if builder.SettingsProvider == nil {
		return nil, errors.New(missingSettingsProviderMessageConstant)
	}

	command := &cobra.Command{
		Use:   planCommandUseConstant,
		Short: planCommandShortDescriptionConstant,
		Long:  planCommandLongDescriptionConstant,
		RunE: func(command *cobra.Command, _ []string) error {
			logger := builder.LoggerProvider()
			settings := builder.SettingsProvider()
			application := builder.Application
			if application == nil {
				application = NewApplication(logger)
			}

			plan, planError := application.BuildPlan(command.Context(), settings)
			if planError != nil {
				return planError
			}

			outputWriter := builder.OutputWriter
			if outputWriter == nil {
				outputWriter = os.Stdout
			}

			fmt.Fprintf(outputWriter, planHeaderTemplateConstant, len(plan.Inventories), len(plan.Entries))
			for _, entry := range plan.Entries {
				destination := planNoDestinationValueConstant
				if len(entry.DestinationWorkspaceSlug) > 0 {
					destination = entry.DestinationWorkspaceSlug + "/" + entry.DestinationName
				}
				fmt.Fprintf(outputWriter, planEntryTemplateConstant, entry.Action, entry.Record.WorkspaceSlug, entry.Record.Name, destination)
			}
			return nil
		},
	}

	return command, nil
}

// VerifyCommandBuilder assembles the verify subcommand.
type VerifyCommandBuilder struct {
	LoggerProvider   func() *zap.Logger
	SettingsProvider func() config.Settings
	Application      *Application
	OutputWriter     io.Writer
}

// Build constructs the verify command.
func (builder *VerifyCommandBuilder) Build() (*cobra.Command, error) {
	if builder.LoggerProvider == nil {
		return nil, errors.New(missingLoggerProviderMessageConstant)
	}
	if builder.SettingsProvider == nil {
		return nil, errors.New(missingSettingsProviderMessageConstant)
	}

	command := &cobra.Command{
		Use:   verifyCommandUseConstant,
		Short: verifyCommandShortDescriptionConstant,
		Long:  verifyCommandLongDescriptionConstant,
		RunE: func(command *cobra.Command, _ []string) error {
			logger := builder.LoggerProvider()
			settings := builder.SettingsProvider()
			application := builder.Application
			if application == nil {
				application = NewApplication(logger)
			}

			verificationReport := application.ExecuteVerify(command.Context(), settings)

			outputWriter := builder.OutputWriter
			if outputWriter == nil {
				outputWriter = os.Stdout
			}

			if verificationReport.ConfigurationError != nil {
				fmt.Fprintf(outputWriter, verifyConfigurationTemplateConstant, verificationReport.ConfigurationError)
			} else {
				writeAccountCheck(outputWriter, verificationReport.Source)
				if verificationReport.Destination != nil {
					writeAccountCheck(outputWriter, *verificationReport.Destination)
				}
			}

			if !verificationReport.Passed() {
				return errors.New(verifyFailedMessageConstant)
			}
			fmt.Fprint(outputWriter, verifyPassedLineConstant)
			return nil
		},
	}

	return command, nil
}

func writeAccountCheck(outputWriter io.Writer, accountCheck verify.AccountCheck) {
	accountState := verifyAccountOKValueConstant
	if !accountCheck.Authenticated || len(accountCheck.Problems) > 0 {
		accountState = verifyAccountFailedValueConstant
	}
	fmt.Fprintf(outputWriter, verifyAccountTemplateConstant, accountCheck.Label, accountState)
	for _, problem := range accountCheck.Problems {
		fmt.Fprintf(outputWriter, verifyProblemTemplateConstant, problem)
	}
}
