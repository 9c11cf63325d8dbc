package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/temirov/bbmigrate/internal/archive"
	"github.com/temirov/bbmigrate/internal/config"
	"github.com/temirov/bbmigrate/internal/discovery"
	"github.com/temirov/bbmigrate/internal/execshell"
	"github.com/temirov/bbmigrate/internal/forge"
	"github.com/temirov/bbmigrate/internal/gitmirror"
	"github.com/temirov/bbmigrate/internal/metadata"
	"github.com/temirov/bbmigrate/internal/pipeline"
	"github.com/temirov/bbmigrate/internal/reconcile"
	"github.com/temirov/bbmigrate/internal/restore"
	"github.com/temirov/bbmigrate/internal/verify"
)

const (
	noRepositoriesMessageConstant         = "no repositories discovered after filtering"
	nameMapLoadErrorTemplateConstant      = "unable to load repository name map: %w"
	planFailureTemplateConstant           = "planning failed for workspace %s: %w"
	executorCreationErrorTemplateConstant = "unable to initialize git executor: %w"
	logMessagePlanBuiltConstant           = "migration plan built"
	logFieldWorkspaceCountConstant        = "workspace_count"
	logFieldEntryCountConstant            = "entry_count"
)

// Plan pairs the discovery inventories with the per-repository plan entries
// in processing order.
type Plan struct {
	Inventories []discovery.WorkspaceInventory
	Entries     []reconcile.PlanEntry
}

// Application wires the engines behind the CLI commands.
type Application struct {
	logger       *zap.Logger
	forgeBaseURL string
}

// NewApplication constructs an Application against the public API endpoint.
func NewApplication(logger *zap.Logger) *Application {
	return NewApplicationWithBaseURL(logger, "")
}

// NewApplicationWithBaseURL constructs an Application against a specific API
// endpoint.
func NewApplicationWithBaseURL(logger *zap.Logger, forgeBaseURL string) *Application {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Application{logger: logger, forgeBaseURL: forgeBaseURL}
}

// ExecuteVerify checks configuration and live account access.
func (application *Application) ExecuteVerify(executionContext context.Context, settings config.Settings) verify.Report {
	forgeClient := forge.NewClient(application.forgeBaseURL, application.logger)
	checker := verify.NewChecker(forgeClient, application.logger)
	return checker.Check(executionContext, settings)
}

// BuildPlan discovers, filters, and reconciles without touching any
// repository. The same plan feeds both the dry-run command and the live run.
func (application *Application) BuildPlan(executionContext context.Context, settings config.Settings) (Plan, error) {
	if validationError := settings.Validate(); validationError != nil {
		return Plan{}, validationError
	}

	forgeClient := forge.NewClient(application.forgeBaseURL, application.logger)
	discoveryService := discovery.NewService(forgeClient, settings.SourceCredentials(), application.logger)

	workspaces, workspaceError := application.resolveWorkspaces(executionContext, discoveryService, settings)
	if workspaceError != nil {
		return Plan{}, workspaceError
	}

	inventories := discoveryService.DiscoverAll(executionContext, workspaces, discovery.Filters{
		WorkspaceSpec:  settings.WorkspaceFilterSpec(),
		RepositorySpec: settings.RepositoryFilterSpec(),
	})

	if len(discovery.Flatten(inventories)) == 0 {
		return Plan{Inventories: inventories}, errors.New(noRepositoriesMessageConstant)
	}

	renameRules, renameError := application.renameRules(settings)
	if renameError != nil {
		return Plan{}, renameError
	}

	plan := Plan{Inventories: inventories}
	destinationConfigured := settings.DestinationCredentials().Configured()

	for _, inventory := range inventories {
		if len(inventory.Repositories) == 0 {
			continue
		}

		destinationWorkspaceSlug := application.destinationWorkspaceSlug(settings, inventory.Workspace.Slug)

		if destinationConfigured && len(destinationWorkspaceSlug) > 0 {
			planner := reconcile.NewPlanner(forgeClient, settings.DestinationCredentials(), renameRules, settings.SkipExistingRepositories, application.logger)
			workspaceEntries, planError := planner.PlanMigration(executionContext, inventory.Repositories, destinationWorkspaceSlug)
			if planError != nil {
				return Plan{}, fmt.Errorf(planFailureTemplateConstant, inventory.Workspace.Slug, planError)
			}
			plan.Entries = append(plan.Entries, workspaceEntries...)
			continue
		}

		// Local-only backup: no destination listing exists, every repository
		// is processed as a fresh capture.
		for _, record := range inventory.Repositories {
			record.DestinationName = renameRules.DestinationName(record.Name)
			plan.Entries = append(plan.Entries, reconcile.PlanEntry{
				Record:          record,
				Action:          reconcile.ActionCreate,
				DestinationName: record.DestinationName,
			})
		}
	}

	application.logger.Info(
		logMessagePlanBuiltConstant,
		zap.Int(logFieldWorkspaceCountConstant, len(inventories)),
		zap.Int(logFieldEntryCountConstant, len(plan.Entries)),
	)

	return plan, nil
}

// ExecuteRun builds the plan and drives the full pipeline over it.
func (application *Application) ExecuteRun(executionContext context.Context, settings config.Settings) (pipeline.RunStatistics, error) {
	plan, planError := application.BuildPlan(executionContext, settings)
	if planError != nil {
		return pipeline.RunStatistics{}, planError
	}

	forgeClient := forge.NewClient(application.forgeBaseURL, application.logger)

	shellExecutor, executorError := execshell.NewShellExecutor(application.logger, execshell.NewOSCommandRunner(), nil)
	if executorError != nil {
		return pipeline.RunStatistics{}, fmt.Errorf(executorCreationErrorTemplateConstant, executorError)
	}
	mirrorManager := gitmirror.NewManager(shellExecutor, settings.GitTimeouts(), application.logger)

	collector := metadata.NewCollector(forgeClient, settings.SourceCredentials(), application.logger)

	userMapping, _ := restore.ParseUserMapping(settings.UserMapping)
	restorer := restore.NewRestorer(forgeClient, settings.DestinationCredentials(), userMapping, settings.RestoreOptions(), application.logger)

	orchestrator := pipeline.NewOrchestrator(
		pipeline.Options{
			BackupBaseDirectory:     settings.BackupBaseDirectory,
			MigrationEnabled:        settings.DestinationCredentials().Configured(),
			RestoreEnabled:          settings.MigrationMode && settings.RestoreEnabled(),
			CreateMissingWorkspaces: settings.CreateMissingWorkspaces,
		},
		pipeline.Dependencies{
			Collector:              collector,
			Mirror:                 mirrorManager,
			Restorer:               restorer,
			Packager:               archive.NewPackager(application.logger),
			Pruner:                 archive.NewPruner(settings.MaxBackups, application.logger),
			DestinationClient:      forgeClient,
			SourceCredentials:      settings.SourceCredentials(),
			DestinationCredentials: settings.DestinationCredentials(),
			Logger:                 application.logger,
		},
	)

	return orchestrator.Run(executionContext, plan.Entries), nil
}

func (application *Application) resolveWorkspaces(executionContext context.Context, discoveryService *discovery.Service, settings config.Settings) ([]discovery.WorkspaceRef, error) {
	if settings.AutoDiscoverAll {
		return discoveryService.DiscoverWorkspaces(executionContext)
	}

	workspaceSlugs := settings.Source.Workspaces
	if !settings.MultiWorkspaceMode {
		workspaceSlugs = []string{settings.Source.Workspace}
	}
	return discoveryService.ResolveWorkspaces(executionContext, workspaceSlugs), nil
}

// destinationWorkspaceSlug picks where one source workspace's repositories
// land. Multi-workspace migrations keep the source slug so workspace
// structure survives the move.
func (application *Application) destinationWorkspaceSlug(settings config.Settings, sourceWorkspaceSlug string) string {
	if settings.MultiWorkspaceMode && settings.MigrationMode {
		return sourceWorkspaceSlug
	}
	return settings.Destination.Workspace
}

func (application *Application) renameRules(settings config.Settings) (reconcile.RenameRules, error) {
	var nameMap map[string]string
	if len(settings.RepositoryNameMapFile) > 0 {
		loadedNameMap, loadError := reconcile.LoadNameMap(settings.RepositoryNameMapFile)
		if loadError != nil {
			return reconcile.RenameRules{}, fmt.Errorf(nameMapLoadErrorTemplateConstant, loadError)
		}
		nameMap = loadedNameMap
	}
	return settings.RenameRules(nameMap), nil
}
