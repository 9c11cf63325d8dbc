package gitmirror

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/temirov/bbmigrate/internal/execshell"
)

const (
	gitCloneSubcommandConstant          = "clone"
	gitMirrorFlagConstant               = "--mirror"
	gitShallowDepthFlagConstant         = "--depth=1"
	gitRemoteSubcommandConstant         = "remote"
	gitRemoteAddSubcommandConstant      = "add"
	gitRemoteSetURLSubcommandConstant   = "set-url"
	gitPushSubcommandConstant           = "push"
	gitPushAllFlagConstant              = "--all"
	gitPushTagsFlagConstant             = "--tags"
	httpsSchemePrefixConstant           = "https://"
	httpSchemePrefixConstant            = "http://"
	credentialSeparatorConstant         = "@"
	emptyCloneURLMessageConstant        = "clone URL must not be empty"
	unsupportedSchemeTemplateConstant   = "clone URL %s does not use HTTP(S); cannot embed credentials"
	mirrorCloneErrorTemplateConstant    = "mirror clone failed: %w"
	workingCopyErrorTemplateConstant    = "working copy clone failed: %w"
	remoteEnsureErrorTemplateConstant   = "unable to configure remote %s: %w"
	fallbackPushErrorTemplateConstant   = "fallback push failed after mirror rejection: %w"
	logMessageMirrorRejectedConstant    = "mirror push rejected, retrying with branches and tags"
	logMessageWorkingCopySkippedIssue   = "working copy clone failed, mirror remains usable"
	logFieldRepositoryPathConstant      = "repository_path"
	logFieldRemoteNameConstant          = "remote_name"
	defaultMirrorCloneTimeoutConstant   = 30 * time.Minute
	defaultWorkingCopyTimeoutConstant   = 10 * time.Minute
	defaultPushTimeoutConstant          = 30 * time.Minute
	minimumOperationTimeoutConstant     = time.Second
)

// Timeouts bounds each class of git invocation. Exceeding a timeout is
// indistinguishable from a command failure for the caller.
type Timeouts struct {
	MirrorClone time.Duration
	WorkingCopy time.Duration
	Push        time.Duration
}

// DefaultTimeouts returns the baseline git operation bounds.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		MirrorClone: defaultMirrorCloneTimeoutConstant,
		WorkingCopy: defaultWorkingCopyTimeoutConstant,
		Push:        defaultPushTimeoutConstant,
	}
}

func (timeouts Timeouts) sanitized() Timeouts {
	sanitized := timeouts
	if sanitized.MirrorClone < minimumOperationTimeoutConstant {
		sanitized.MirrorClone = defaultMirrorCloneTimeoutConstant
	}
	if sanitized.WorkingCopy < minimumOperationTimeoutConstant {
		sanitized.WorkingCopy = defaultWorkingCopyTimeoutConstant
	}
	if sanitized.Push < minimumOperationTimeoutConstant {
		sanitized.Push = defaultPushTimeoutConstant
	}
	return sanitized
}

// GitExecutor abstracts the shell executor for testability.
type GitExecutor interface {
	ExecuteGit(executionContext context.Context, details execshell.CommandDetails) (execshell.ExecutionResult, error)
}

// Manager wraps the git client for mirror operations.
type Manager struct {
	executor GitExecutor
	timeouts Timeouts
	logger   *zap.Logger
}

// NewManager constructs a Manager with the supplied executor and timeouts.
func NewManager(executor GitExecutor, timeouts Timeouts, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{executor: executor, timeouts: timeouts.sanitized(), logger: logger}
}

// AuthenticatedCloneURL strips any pre-existing embedded credentials from the
// clone URL (split on the first @, keep everything after it as host+path) and
// substitutes the supplied identity.
func AuthenticatedCloneURL(cloneURL string, email string, apiToken string) (string, error) {
	trimmedCloneURL := strings.TrimSpace(cloneURL)
	if len(trimmedCloneURL) == 0 {
		return "", fmt.Errorf(emptyCloneURLMessageConstant)
	}

	var schemePrefix string
	switch {
	case strings.HasPrefix(trimmedCloneURL, httpsSchemePrefixConstant):
		schemePrefix = httpsSchemePrefixConstant
	case strings.HasPrefix(trimmedCloneURL, httpSchemePrefixConstant):
		schemePrefix = httpSchemePrefixConstant
	default:
		return "", fmt.Errorf(unsupportedSchemeTemplateConstant, trimmedCloneURL)
	}

	hostAndPath := strings.TrimPrefix(trimmedCloneURL, schemePrefix)
	if separatorIndex := strings.Index(hostAndPath, credentialSeparatorConstant); separatorIndex >= 0 {
		hostAndPath = hostAndPath[separatorIndex+1:]
	}

	return schemePrefix + email + ":" + apiToken + credentialSeparatorConstant + hostAndPath, nil
}

// CloneMirror produces a full mirror clone at the target path. Failure here
// is fatal for the repository being processed.
func (manager *Manager) CloneMirror(executionContext context.Context, authenticatedURL string, targetPath string) error {
	boundedContext, cancelFunction := context.WithTimeout(executionContext, manager.timeouts.MirrorClone)
	defer cancelFunction()

	_, executionError := manager.executor.ExecuteGit(boundedContext, execshell.CommandDetails{
		Arguments: []string{gitCloneSubcommandConstant, gitMirrorFlagConstant, authenticatedURL, targetPath},
	})
	if executionError != nil {
		return fmt.Errorf(mirrorCloneErrorTemplateConstant, executionError)
	}
	return nil
}

// CloneWorkingCopy produces a shallow working copy. Failure is non-fatal for
// the repository: the mirror remains usable for push and archive.
func (manager *Manager) CloneWorkingCopy(executionContext context.Context, authenticatedURL string, targetPath string) error {
	boundedContext, cancelFunction := context.WithTimeout(executionContext, manager.timeouts.WorkingCopy)
	defer cancelFunction()

	_, executionError := manager.executor.ExecuteGit(boundedContext, execshell.CommandDetails{
		Arguments: []string{gitCloneSubcommandConstant, gitShallowDepthFlagConstant, authenticatedURL, targetPath},
	})
	if executionError != nil {
		manager.logger.Warn(
			logMessageWorkingCopySkippedIssue,
			zap.String(logFieldRepositoryPathConstant, targetPath),
			zap.Error(executionError),
		)
		return fmt.Errorf(workingCopyErrorTemplateConstant, executionError)
	}
	return nil
}

// EnsureRemote adds the named remote, falling back to set-url when the
// remote already exists.
func (manager *Manager) EnsureRemote(executionContext context.Context, repositoryPath string, remoteName string, remoteURL string) error {
	_, addError := manager.executor.ExecuteGit(executionContext, execshell.CommandDetails{
		Arguments:        []string{gitRemoteSubcommandConstant, gitRemoteAddSubcommandConstant, remoteName, remoteURL},
		WorkingDirectory: repositoryPath,
	})
	if addError == nil {
		return nil
	}

	_, setError := manager.executor.ExecuteGit(executionContext, execshell.CommandDetails{
		Arguments:        []string{gitRemoteSubcommandConstant, gitRemoteSetURLSubcommandConstant, remoteName, remoteURL},
		WorkingDirectory: repositoryPath,
	})
	if setError != nil {
		return fmt.Errorf(remoteEnsureErrorTemplateConstant, remoteName, setError)
	}
	return nil
}

// PushMirror mirror-pushes the repository to the named remote. On mirror
// rejection it falls back once to an all-branches plus explicit-tags push;
// exhausting both attempts fails the repository, not the run.
func (manager *Manager) PushMirror(executionContext context.Context, repositoryPath string, remoteName string) error {
	boundedContext, cancelFunction := context.WithTimeout(executionContext, manager.timeouts.Push)
	defer cancelFunction()

	_, mirrorError := manager.executor.ExecuteGit(boundedContext, execshell.CommandDetails{
		Arguments:        []string{gitPushSubcommandConstant, gitMirrorFlagConstant, remoteName},
		WorkingDirectory: repositoryPath,
	})
	if mirrorError == nil {
		return nil
	}

	manager.logger.Warn(
		logMessageMirrorRejectedConstant,
		zap.String(logFieldRepositoryPathConstant, repositoryPath),
		zap.String(logFieldRemoteNameConstant, remoteName),
		zap.Error(mirrorError),
	)

	fallbackContext, fallbackCancel := context.WithTimeout(executionContext, manager.timeouts.Push)
	defer fallbackCancel()

	if _, branchesError := manager.executor.ExecuteGit(fallbackContext, execshell.CommandDetails{
		Arguments:        []string{gitPushSubcommandConstant, remoteName, gitPushAllFlagConstant},
		WorkingDirectory: repositoryPath,
	}); branchesError != nil {
		return fmt.Errorf(fallbackPushErrorTemplateConstant, branchesError)
	}

	if _, tagsError := manager.executor.ExecuteGit(fallbackContext, execshell.CommandDetails{
		Arguments:        []string{gitPushSubcommandConstant, remoteName, gitPushTagsFlagConstant},
		WorkingDirectory: repositoryPath,
	}); tagsError != nil {
		return fmt.Errorf(fallbackPushErrorTemplateConstant, tagsError)
	}

	return nil
}
