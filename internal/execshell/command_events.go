package execshell

// GitCommandObserver receives lifecycle notifications for git invocations.
// Argument lists are redacted before delivery; embedded clone credentials
// never reach an observer.
type GitCommandObserver interface {
	// GitCommandStarted fires before the process is spawned.
	GitCommandStarted(redactedArguments []string, workingDirectory string)
	// GitCommandCompleted fires once the process produced an exit code.
	GitCommandCompleted(redactedArguments []string, result ExecutionResult)
	// GitCommandFailed fires when the process could not run at all.
	GitCommandFailed(redactedArguments []string, failure error)
}

type noopGitCommandObserver struct{}

func (noopGitCommandObserver) GitCommandStarted([]string, string)            {}
func (noopGitCommandObserver) GitCommandCompleted([]string, ExecutionResult) {}
func (noopGitCommandObserver) GitCommandFailed([]string, error)              {}
