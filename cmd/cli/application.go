package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/temirov/bbmigrate/internal/app"
	"github.com/temirov/bbmigrate/internal/config"
	"github.com/temirov/bbmigrate/internal/utils"
)

const (
	applicationNameConstant             = "bbmigrate"
	applicationShortDescriptionConstant = "Bitbucket workspace backup and migration tool"
	applicationLongDescriptionConstant  = "bbmigrate discovers Bitbucket workspaces, mirrors every selected repository with its collaboration metadata into local archives, and optionally recreates repositories and restored metadata in a destination workspace."

	configFileFlagNameConstant  = "config"
	configFileFlagUsageConstant = "Optional path to a configuration file (YAML or JSON)."
	logLevelFlagNameConstant    = "log-level"
	logLevelFlagUsageConstant   = "Override the log level (debug, info, warn, error)."
	logFormatFlagNameConstant   = "log-format"
	logFormatFlagUsageConstant  = "Override the log format (structured or console)."

	configurationInitializedMessageConstant = "configuration initialized"
	configurationLogLevelFieldConstant      = "log_level"
	configurationLogFormatFieldConstant     = "log_format"
	configurationFileFieldConstant          = "config_file"
	configurationLoadErrorTemplateConstant  = "unable to load configuration: %w"
	loggerCreationErrorTemplateConstant     = "unable to create logger: %w"
	loggerSyncErrorTemplateConstant         = "unable to flush logger: %w"

	logsDirectoryNameConstant          = "logs"
	logsDirectoryPermissionsConstant   = 0o755
	logFileNameTemplateConstant        = "backup_%s.log"
	logFileTimestampLayoutConstant     = "2006-01-02_15-04-05"
	logFileUnavailableWarnConstant     = "log file unavailable, logging to standard error only"
	logFieldLogDirectoryConstant       = "log_directory"
	runLogCommandNameConstant          = "run"
	defaultLogLevelValueConstant       = string(utils.LogLevelInfo)
	defaultLogFormatValueConstant      = string(utils.LogFormatStructured)
)

// Application wires the Cobra root command, configuration loading, and
// structured logger around the backup engines.
type Application struct {
	rootCommand           *cobra.Command
	loggerFactory         *utils.LoggerFactory
	logger                *zap.Logger
	settings              config.Settings
	configurationFilePath string
	logLevelFlagValue     string
	logFormatFlagValue    string
}

// NewApplication assembles a fully wired CLI application instance.
func NewApplication() *Application {
	application := &Application{
		loggerFactory: utils.NewLoggerFactory(),
		logger:        zap.NewNop(),
	}

	cobraCommand := &cobra.Command{
		Use:           applicationNameConstant,
		Short:         applicationShortDescriptionConstant,
		Long:          applicationLongDescriptionConstant,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(command *cobra.Command, arguments []string) error {
			return application.initializeConfiguration(command)
		},
		RunE: func(command *cobra.Command, arguments []string) error {
			return command.Help()
		},
	}

	cobraCommand.SetContext(context.Background())
	cobraCommand.PersistentFlags().StringVar(&application.configurationFilePath, configFileFlagNameConstant, "", configFileFlagUsageConstant)
	cobraCommand.PersistentFlags().StringVar(&application.logLevelFlagValue, logLevelFlagNameConstant, "", logLevelFlagUsageConstant)
	cobraCommand.PersistentFlags().StringVar(&application.logFormatFlagValue, logFormatFlagNameConstant, "", logFormatFlagUsageConstant)

	runBuilder := app.RunCommandBuilder{
		LoggerProvider: func() *zap.Logger {
			return application.logger
		},
		SettingsProvider: func() config.Settings {
			return application.settings
		},
	}
	runCommand, runBuildError := runBuilder.Build()
	if runBuildError == nil {
		cobraCommand.AddCommand(runCommand)
	}

	planBuilder := app.PlanCommandBuilder{
		LoggerProvider: func() *zap.Logger {
			return application.logger
		},
		SettingsProvider: func() config.Settings {
			return application.settings
		},
	}
	planCommand, planBuildError := planBuilder.Build()
	if planBuildError == nil {
		cobraCommand.AddCommand(planCommand)
	}

	verifyBuilder := app.VerifyCommandBuilder{
		LoggerProvider: func() *zap.Logger {
			return application.logger
		},
		SettingsProvider: func() config.Settings {
			return application.settings
		},
	}
	verifyCommand, verifyBuildError := verifyBuilder.Build()
	if verifyBuildError == nil {
		cobraCommand.AddCommand(verifyCommand)
	}

	application.rootCommand = cobraCommand

	return application
}

// RootCommand exposes the assembled Cobra root for argument injection in tests.
func (application *Application) RootCommand() *cobra.Command {
	return application.rootCommand
}

// Execute runs the configured Cobra command hierarchy and ensures logger flushing.
func (application *Application) Execute() error {
	executionError := application.rootCommand.Execute()
	if syncError := application.flushLogger(); syncError != nil {
		return fmt.Errorf(loggerSyncErrorTemplateConstant, syncError)
	}
	return executionError
}

// Execute builds a fresh application instance and executes the root command hierarchy.
func Execute() error {
	return NewApplication().Execute()
}

func (application *Application) initializeConfiguration(command *cobra.Command) error {
	loadedSettings, loadError := config.Load(application.configurationFilePath)
	if loadError != nil {
		return fmt.Errorf(configurationLoadErrorTemplateConstant, loadError)
	}
	application.settings = loadedSettings

	logLevelValue := defaultLogLevelValueConstant
	if application.persistentFlagChanged(command, logLevelFlagNameConstant) {
		logLevelValue = application.logLevelFlagValue
	}
	logFormatValue := defaultLogFormatValueConstant
	if application.persistentFlagChanged(command, logFormatFlagNameConstant) {
		logFormatValue = application.logFormatFlagValue
	}

	logger, loggerCreationError := application.createLogger(command, utils.LogLevel(logLevelValue), utils.LogFormat(logFormatValue))
	if loggerCreationError != nil {
		return fmt.Errorf(loggerCreationErrorTemplateConstant, loggerCreationError)
	}
	application.logger = logger

	application.logger.Info(
		configurationInitializedMessageConstant,
		zap.String(configurationLogLevelFieldConstant, logLevelValue),
		zap.String(configurationLogFormatFieldConstant, logFormatValue),
		zap.String(configurationFileFieldConstant, application.configurationFilePath),
	)

	return nil
}

// createLogger mirrors run output into {base}/logs/backup_{timestamp}.log so
// every run leaves a reviewable trail next to its archives. Other commands log
// to standard error only.
func (application *Application) createLogger(command *cobra.Command, logLevel utils.LogLevel, logFormat utils.LogFormat) (*zap.Logger, error) {
	if command == nil || command.Name() != runLogCommandNameConstant {
		return application.loggerFactory.CreateLogger(logLevel, logFormat)
	}

	logsDirectory := filepath.Join(application.settings.BackupBaseDirectory, logsDirectoryNameConstant)
	if mkdirError := os.MkdirAll(logsDirectory, logsDirectoryPermissionsConstant); mkdirError != nil {
		fallbackLogger, fallbackError := application.loggerFactory.CreateLogger(logLevel, logFormat)
		if fallbackError != nil {
			return nil, fallbackError
		}
		fallbackLogger.Warn(logFileUnavailableWarnConstant, zap.String(logFieldLogDirectoryConstant, logsDirectory), zap.Error(mkdirError))
		return fallbackLogger, nil
	}

	logFileName := fmt.Sprintf(logFileNameTemplateConstant, time.Now().Format(logFileTimestampLayoutConstant))
	return application.loggerFactory.CreateLoggerWithOutputPaths(logLevel, logFormat, filepath.Join(logsDirectory, logFileName))
}

func (application *Application) flushLogger() error {
	if application.logger == nil {
		return nil
	}

	syncError := application.logger.Sync()
	switch {
	case syncError == nil:
		return nil
	case errors.Is(syncError, syscall.ENOTSUP):
		return nil
	case errors.Is(syncError, syscall.EINVAL):
		return nil
	default:
		return syncError
	}
}

func (application *Application) persistentFlagChanged(command *cobra.Command, flagName string) bool {
	if command == nil {
		return false
	}

	flagSetsToInspect := []*pflag.FlagSet{
		command.PersistentFlags(),
		command.InheritedFlags(),
	}

	rootCommand := command.Root()
	if rootCommand != nil {
		flagSetsToInspect = append(flagSetsToInspect, rootCommand.PersistentFlags())
	}

	for _, flagSet := range flagSetsToInspect {
		if flagSet == nil {
			continue
		}

		if flagSet.Changed(flagName) {
			return true
		}
	}

	return false
}
