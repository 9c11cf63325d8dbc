package execshell

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

const (
	loggerNotConfiguredMessageConstant        = "logger not configured"
	commandRunnerNotConfiguredMessageConstant = "command runner not configured"
	commandFailedTemplateConstant             = "%s exited with code %d: %s"
	commandExecutionFailedTemplateConstant    = "%s could not be executed: %v"
	logMessageCommandStartedConstant          = "executing command"
	logMessageCommandCompletedConstant        = "command completed"
	logMessageCommandFailedConstant           = "command execution failed"
	logFieldCommandNameConstant               = "command_name"
	logFieldCommandArgumentsConstant          = "command_arguments"
	logFieldWorkingDirectoryConstant          = "working_directory"
	logFieldExitCodeConstant                  = "exit_code"
	redactedCredentialPlaceholderConstant     = "***@"
)

// CommandName identifies a supported executable.
type CommandName string

// Supported executables.
const (
	CommandGit CommandName = "git"
)

// CommandDetails describes one command invocation.
type CommandDetails struct {
	Arguments            []string
	WorkingDirectory     string
	EnvironmentVariables map[string]string
	StandardInput        []byte
}

// ShellCommand pairs an executable name with its invocation details.
type ShellCommand struct {
	Name    CommandName
	Details CommandDetails
}

// ExecutionResult captures the observable outcome of a command invocation.
type ExecutionResult struct {
	StandardOutput string
	StandardError  string
	ExitCode       int
}

// CommandRunner abstracts process execution for testability.
type CommandRunner interface {
	Run(executionContext context.Context, command ShellCommand) (ExecutionResult, error)
}

// Configuration errors.
var (
	ErrLoggerNotConfigured        = errors.New(loggerNotConfiguredMessageConstant)
	ErrCommandRunnerNotConfigured = errors.New(commandRunnerNotConfiguredMessageConstant)
)

// CommandFailedError reports a command that ran and exited non-zero.
type CommandFailedError struct {
	Command ShellCommand
	Result  ExecutionResult
}

// Error summarizes the failure with redacted arguments.
func (failure CommandFailedError) Error() string {
	return fmt.Sprintf(commandFailedTemplateConstant, describeCommand(failure.Command), failure.Result.ExitCode, strings.TrimSpace(failure.Result.StandardError))
}

// CommandExecutionError reports a command that could not be started or was
// cancelled before producing an exit code.
type CommandExecutionError struct {
	Command ShellCommand
	Cause   error
}

// Error summarizes the failure with redacted arguments.
func (failure CommandExecutionError) Error() string {
	return fmt.Sprintf(commandExecutionFailedTemplateConstant, describeCommand(failure.Command), failure.Cause)
}

// Unwrap exposes the underlying cause.
func (failure CommandExecutionError) Unwrap() error {
	return failure.Cause
}

// ShellExecutor runs commands through a CommandRunner with logging and events.
type ShellExecutor struct {
	logger   *zap.Logger
	runner   CommandRunner
	observer GitCommandObserver
}

// NewShellExecutor constructs a ShellExecutor; logger and runner are required.
func NewShellExecutor(logger *zap.Logger, runner CommandRunner, observer GitCommandObserver) (*ShellExecutor, error) {
	if logger == nil {
		return nil, ErrLoggerNotConfigured
	}
	if runner == nil {
		return nil, ErrCommandRunnerNotConfigured
	}
	if observer == nil {
		observer = noopGitCommandObserver{}
	}
	return &ShellExecutor{logger: logger, runner: runner, observer: observer}, nil
}

// ExecuteGit runs the git executable with the supplied details.
func (executor *ShellExecutor) ExecuteGit(executionContext context.Context, details CommandDetails) (ExecutionResult, error) {
	return executor.Execute(executionContext, ShellCommand{Name: CommandGit, Details: details})
}

// Execute runs the command, returning CommandFailedError for non-zero exits
// and CommandExecutionError when the process could not run at all.
func (executor *ShellExecutor) Execute(executionContext context.Context, command ShellCommand) (ExecutionResult, error) {
	redactedArguments := RedactArguments(command.Details.Arguments)

	executor.logger.Debug(
		logMessageCommandStartedConstant,
		zap.String(logFieldCommandNameConstant, string(command.Name)),
		zap.Strings(logFieldCommandArgumentsConstant, redactedArguments),
		zap.String(logFieldWorkingDirectoryConstant, command.Details.WorkingDirectory),
	)
	executor.observer.GitCommandStarted(redactedArguments, command.Details.WorkingDirectory)

	executionResult, executionError := executor.runner.Run(executionContext, command)
	if executionError != nil {
		executor.logger.Warn(
			logMessageCommandFailedConstant,
			zap.String(logFieldCommandNameConstant, string(command.Name)),
			zap.Strings(logFieldCommandArgumentsConstant, redactedArguments),
			zap.Error(executionError),
		)
		executor.observer.GitCommandFailed(redactedArguments, executionError)
		return ExecutionResult{}, CommandExecutionError{Command: command, Cause: executionError}
	}

	executor.logger.Debug(
		logMessageCommandCompletedConstant,
		zap.String(logFieldCommandNameConstant, string(command.Name)),
		zap.Int(logFieldExitCodeConstant, executionResult.ExitCode),
	)
	executor.observer.GitCommandCompleted(redactedArguments, executionResult)

	if executionResult.ExitCode != 0 {
		return executionResult, CommandFailedError{Command: command, Result: executionResult}
	}

	return executionResult, nil
}

// Greedy through the last @ so userinfo containing a raw @ (an email) still
// redacts completely.
var embeddedCredentialPattern = regexp.MustCompile(`(https?://)[^/\s]+@`)

// RedactArguments replaces embedded URL credentials so tokens never reach
// logs or error text.
func RedactArguments(arguments []string) []string {
	redacted := make([]string, len(arguments))
	for argumentIndex, argument := range arguments {
		redacted[argumentIndex] = embeddedCredentialPattern.ReplaceAllString(argument, "${1}"+redactedCredentialPlaceholderConstant)
	}
	return redacted
}

func describeCommand(command ShellCommand) string {
	redactedArguments := RedactArguments(command.Details.Arguments)
	return strings.TrimSpace(string(command.Name) + " " + strings.Join(redactedArguments, " "))
}
