package verify

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/temirov/bbmigrate/internal/config"
	"github.com/temirov/bbmigrate/internal/forge"
)

const (
	currentUserResourcePathConstant       = "user"
	repositoriesResourceTemplateConstant  = "repositories/%s"
	sourceAccountLabelConstant            = "source"
	destinationAccountLabelConstant       = "destination"
	logMessageAccountCheckedConstant      = "account access checked"
	logFieldAccountLabelConstant          = "account_label"
	logFieldAuthenticatedConstant         = "authenticated"
	logFieldWorkspaceSlugConstant         = "workspace_slug"
	logFieldWorkspaceAccessibleConstant   = "workspace_accessible"
	authenticationFailedTemplateConstant  = "%s authentication failed: %v"
	workspaceAccessFailedTemplateConstant = "%s workspace %s not accessible: %v"
)

// AccountCheck reports one account's verification outcome.
type AccountCheck struct {
	Label               string
	Authenticated       bool
	UserDisplayName     string
	CheckedWorkspace    string
	WorkspaceAccessible bool
	Problems            []string
}

// Report aggregates the verification run.
type Report struct {
	ConfigurationError error
	Source             AccountCheck
	Destination        *AccountCheck
}

// Passed reports whether every performed check succeeded.
func (report Report) Passed() bool {
	if report.ConfigurationError != nil {
		return false
	}
	if !report.Source.Authenticated || len(report.Source.Problems) > 0 {
		return false
	}
	if report.Destination != nil && (!report.Destination.Authenticated || len(report.Destination.Problems) > 0) {
		return false
	}
	return true
}

// ForgeReader abstracts the forge calls verification performs.
type ForgeReader interface {
	Get(executionContext context.Context, credentials forge.Credentials, resourcePath string) (json.RawMessage, error)
}

// Checker validates both accounts against the live API.
type Checker struct {
	forgeClient ForgeReader
	logger      *zap.Logger
}

// NewChecker constructs a Checker.
func NewChecker(forgeClient ForgeReader, logger *zap.Logger) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{forgeClient: forgeClient, logger: logger}
}

// Check validates configuration, source account access, and, in migration
// mode, destination account access. Multi-workspace scopes sample their first
// workspace, matching how operators have always smoke-tested access.
func (checker *Checker) Check(executionContext context.Context, settings config.Settings) Report {
	report := Report{}

	if validationError := settings.Validate(); validationError != nil {
		report.ConfigurationError = validationError
		return report
	}

	sourceWorkspace := settings.Source.Workspace
	if settings.MultiWorkspaceMode && len(settings.Source.Workspaces) > 0 {
		sourceWorkspace = settings.Source.Workspaces[0]
	}
	report.Source = checker.checkAccount(executionContext, sourceAccountLabelConstant, settings.SourceCredentials(), sourceWorkspace)

	if settings.MigrationMode {
		destinationWorkspace := settings.Destination.Workspace
		if settings.MultiWorkspaceMode {
			// Destination workspaces may be created during the run; only the
			// account itself is checked.
			destinationWorkspace = ""
		}
		destinationCheck := checker.checkAccount(executionContext, destinationAccountLabelConstant, settings.DestinationCredentials(), destinationWorkspace)
		report.Destination = &destinationCheck
	}

	return report
}

func (checker *Checker) checkAccount(executionContext context.Context, accountLabel string, credentials forge.Credentials, workspaceSlug string) AccountCheck {
	accountCheck := AccountCheck{Label: accountLabel, CheckedWorkspace: workspaceSlug}

	rawUser, userError := checker.forgeClient.Get(executionContext, credentials, currentUserResourcePathConstant)
	if userError != nil {
		accountCheck.Problems = append(accountCheck.Problems, fmt.Sprintf(authenticationFailedTemplateConstant, accountLabel, userError))
	} else {
		accountCheck.Authenticated = true
		var userPayload forge.UserPayload
		if decodeError := forge.DecodeInto(rawUser, &userPayload); decodeError == nil {
			accountCheck.UserDisplayName = userPayload.DisplayName
		}
	}

	if accountCheck.Authenticated && len(workspaceSlug) > 0 {
		workspaceResource := fmt.Sprintf(repositoriesResourceTemplateConstant, workspaceSlug)
		if _, workspaceError := checker.forgeClient.Get(executionContext, credentials, workspaceResource); workspaceError != nil {
			accountCheck.Problems = append(accountCheck.Problems, fmt.Sprintf(workspaceAccessFailedTemplateConstant, accountLabel, workspaceSlug, workspaceError))
		} else {
			accountCheck.WorkspaceAccessible = true
		}
	}

	checker.logger.Info(
		logMessageAccountCheckedConstant,
		zap.String(logFieldAccountLabelConstant, accountLabel),
		zap.Bool(logFieldAuthenticatedConstant, accountCheck.Authenticated),
		zap.String(logFieldWorkspaceSlugConstant, workspaceSlug),
		zap.Bool(logFieldWorkspaceAccessibleConstant, accountCheck.WorkspaceAccessible),
	)

	return accountCheck
}
