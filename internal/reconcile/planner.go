package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/temirov/bbmigrate/internal/discovery"
	"github.com/temirov/bbmigrate/internal/forge"
)

const (
	destinationListPathTemplateConstant   = "repositories/%s"
	logMessagePlanComputedConstant        = "migration plan computed"
	logFieldDestinationWorkspaceConstant  = "destination_workspace"
	logFieldCreateCountConstant           = "create_count"
	logFieldSkipExistingCountConstant     = "skip_existing_count"
	backupMirrorSuffixConstant            = "-backup-mirror"
	destinationListErrorTemplateConstant  = "unable to list destination workspace %s: %w"
	destinationEntryErrorTemplateConstant = "unable to decode destination repository listing for %s: %w"
)

// Action describes the planned handling of one source repository.
type Action string

// Plan actions.
const (
	ActionCreate       Action = "create"
	ActionSkipExists   Action = "skip_exists"
	ActionSkipFiltered Action = "skip_filtered"
)

// PlanEntry pairs one source repository with its decided destination handling.
// Entries are built once per run and never mutated afterwards.
type PlanEntry struct {
	Record                   discovery.RepositoryRecord
	Action                   Action
	DestinationWorkspaceSlug string
	DestinationName          string
	ExistingDestination      *forge.RepositoryPayload
}

// RenameRules configures how destination names derive from source names.
// An explicit map entry wins over the prefix; the mirror suffix marks
// pure-backup runs and composes with whichever base name was chosen.
type RenameRules struct {
	PreserveNames      bool
	NamePrefix         string
	NameMap            map[string]string
	AppendMirrorSuffix bool
}

// DestinationName computes the destination repository name for a source name.
func (rules RenameRules) DestinationName(sourceName string) string {
	destinationName := sourceName
	if mappedName, exists := rules.NameMap[sourceName]; exists && len(mappedName) > 0 {
		destinationName = mappedName
	} else if !rules.PreserveNames && len(rules.NamePrefix) > 0 {
		destinationName = rules.NamePrefix + sourceName
	}
	if rules.AppendMirrorSuffix {
		destinationName = destinationName + backupMirrorSuffixConstant
	}
	return destinationName
}

// ForgeLister abstracts the forge calls the planner needs.
type ForgeLister interface {
	CollectPages(executionContext context.Context, credentials forge.Credentials, resourcePath string, params url.Values) ([]json.RawMessage, error)
}

// Planner reconciles source repositories against one destination workspace.
type Planner struct {
	forgeClient  ForgeLister
	credentials  forge.Credentials
	renameRules  RenameRules
	skipExisting bool
	logger       *zap.Logger
}

// NewPlanner constructs a Planner bound to the destination credentials.
func NewPlanner(forgeClient ForgeLister, credentials forge.Credentials, renameRules RenameRules, skipExisting bool, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{
		forgeClient:  forgeClient,
		credentials:  credentials,
		renameRules:  renameRules,
		skipExisting: skipExisting,
		logger:       logger,
	}
}

// PlanMigration fetches the destination repository set once and decides, per
// source repository, whether to create or skip. The destination listing is a
// snapshot: the plan must not be recomputed mid-run, or repositories later in
// the queue would see ordering-dependent decisions.
func (planner *Planner) PlanMigration(executionContext context.Context, sourceRepositories []discovery.RepositoryRecord, destinationWorkspaceSlug string) ([]PlanEntry, error) {
	listPath := fmt.Sprintf(destinationListPathTemplateConstant, destinationWorkspaceSlug)
	rawDestinationRepositories, listError := planner.forgeClient.CollectPages(executionContext, planner.credentials, listPath, nil)
	if listError != nil {
		return nil, fmt.Errorf(destinationListErrorTemplateConstant, destinationWorkspaceSlug, listError)
	}

	destinationByName := make(map[string]forge.RepositoryPayload, len(rawDestinationRepositories))
	for _, rawDestinationRepository := range rawDestinationRepositories {
		var destinationPayload forge.RepositoryPayload
		if decodeError := forge.DecodeInto(rawDestinationRepository, &destinationPayload); decodeError != nil {
			return nil, fmt.Errorf(destinationEntryErrorTemplateConstant, destinationWorkspaceSlug, decodeError)
		}
		destinationByName[destinationPayload.Name] = destinationPayload
		if len(destinationPayload.Slug) > 0 {
			destinationByName[destinationPayload.Slug] = destinationPayload
		}
	}

	planEntries := make([]PlanEntry, 0, len(sourceRepositories))
	createCount := 0
	skipCount := 0

	for _, sourceRepository := range sourceRepositories {
		destinationName := planner.renameRules.DestinationName(sourceRepository.Name)
		record := sourceRepository
		record.DestinationName = destinationName

		planEntry := PlanEntry{
			Record:                   record,
			Action:                   ActionCreate,
			DestinationWorkspaceSlug: destinationWorkspaceSlug,
			DestinationName:          destinationName,
		}

		if existingDestination, exists := destinationByName[destinationName]; exists && planner.skipExisting {
			existingCopy := existingDestination
			planEntry.Action = ActionSkipExists
			planEntry.ExistingDestination = &existingCopy
			skipCount++
		} else {
			// Without skip policy a collision surfaces as a Conflict at
			// creation time, which the orchestrator treats as non-fatal.
			createCount++
		}

		planEntries = append(planEntries, planEntry)
	}

	planner.logger.Info(
		logMessagePlanComputedConstant,
		zap.String(logFieldDestinationWorkspaceConstant, destinationWorkspaceSlug),
		zap.Int(logFieldCreateCountConstant, createCount),
		zap.Int(logFieldSkipExistingCountConstant, skipCount),
	)

	return planEntries, nil
}
