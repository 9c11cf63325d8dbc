package config

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/temirov/bbmigrate/internal/filter"
	"github.com/temirov/bbmigrate/internal/forge"
	"github.com/temirov/bbmigrate/internal/gitmirror"
	"github.com/temirov/bbmigrate/internal/reconcile"
	"github.com/temirov/bbmigrate/internal/restore"
)

const (
	defaultBackupBaseDirectoryConstant = "/opt/bitbucket-backup"
	defaultMaxBackupsConstant          = 5
	defaultCloneTimeoutConstant        = 1800 * time.Second
	defaultPushTimeoutConstant         = 600 * time.Second
	configurationTypeConstant          = "yaml"
	configurationReadErrorTemplate     = "failed to read configuration: %w"
	configurationParseErrorTemplate    = "failed to parse configuration: %w"

	missingSourceCredentialsMessageConstant      = "source credentials are required (SOURCE_ATLASSIAN_EMAIL, SOURCE_BITBUCKET_API_TOKEN)"
	missingSourceWorkspaceMessageConstant        = "a source workspace is required unless auto-discovery or multi-workspace mode is enabled"
	missingSourceWorkspaceListMessageConstant    = "multi-workspace mode requires SOURCE_BITBUCKET_WORKSPACES"
	missingDestinationCredentialsMessageConstant = "migration mode requires destination credentials (DEST_ATLASSIAN_EMAIL, DEST_BITBUCKET_API_TOKEN)"
	missingDestinationWorkspaceMessageConstant   = "destination credentials require DEST_BITBUCKET_WORKSPACE (or BACKUP_WORKSPACE) unless multi-workspace migration is enabled"
	invalidUserMappingTemplateConstant           = "USER_MAPPING is not valid JSON: %v"
)

// AccountSettings carries one side's identity and workspace scope.
type AccountSettings struct {
	Email      string   `mapstructure:"email"`
	APIToken   string   `mapstructure:"api_token"`
	Workspace  string   `mapstructure:"workspace"`
	Workspaces []string `mapstructure:"workspaces"`
}

// RestoreSettings toggles each collaboration facet.
type RestoreSettings struct {
	Issues             bool `mapstructure:"issues"`
	PullRequests       bool `mapstructure:"prs"`
	Wiki               bool `mapstructure:"wiki"`
	Permissions        bool `mapstructure:"permissions"`
	BranchRestrictions bool `mapstructure:"branch_restrictions"`
	Webhooks           bool `mapstructure:"webhooks"`
	DeployKeys         bool `mapstructure:"deploy_keys"`
}

// Settings is the full run configuration.
type Settings struct {
	MigrationMode      bool `mapstructure:"migration_mode"`
	MultiWorkspaceMode bool `mapstructure:"multi_workspace_mode"`
	AutoDiscoverAll    bool `mapstructure:"auto_discover_all"`

	Source      AccountSettings `mapstructure:"source"`
	Destination AccountSettings `mapstructure:"destination"`

	WorkspaceIncludePatterns  []string `mapstructure:"workspace_include_patterns"`
	WorkspaceExcludePatterns  []string `mapstructure:"workspace_exclude_patterns"`
	RepositoryIncludePatterns []string `mapstructure:"repo_include_patterns"`
	RepositoryExcludePatterns []string `mapstructure:"repo_exclude_patterns"`
	AutoDiscoveryMaxRepos     int      `mapstructure:"auto_discovery_max_repos"`

	PreserveRepositoryNames  bool   `mapstructure:"preserve_repo_names"`
	RepositoryNamePrefix     string `mapstructure:"repo_name_prefix"`
	RepositoryNameMapFile    string `mapstructure:"repo_name_map_file"`
	SkipExistingRepositories bool   `mapstructure:"skip_existing_repos"`
	CreateMissingWorkspaces  bool   `mapstructure:"create_missing_workspaces"`

	Restore     RestoreSettings `mapstructure:"restore"`
	UserMapping string          `mapstructure:"user_mapping"`

	CloneTimeout time.Duration `mapstructure:"clone_timeout"`
	PushTimeout  time.Duration `mapstructure:"push_timeout"`

	MaxBackups          int    `mapstructure:"max_backups"`
	BackupBaseDirectory string `mapstructure:"backup_base_dir"`
}

// environmentBindings maps viper keys to the environment variable names the
// deployment scripts set. Later names are fallbacks.
var environmentBindings = map[string][]string{
	"migration_mode":              {"MIGRATION_MODE"},
	"multi_workspace_mode":        {"MULTI_WORKSPACE_MODE"},
	"auto_discover_all":           {"AUTO_DISCOVER_ALL"},
	"source.email":                {"SOURCE_ATLASSIAN_EMAIL", "ATLASSIAN_EMAIL"},
	"source.api_token":            {"SOURCE_BITBUCKET_API_TOKEN", "BITBUCKET_API_TOKEN"},
	"source.workspace":            {"SOURCE_BITBUCKET_WORKSPACE", "BITBUCKET_WORKSPACE"},
	"source.workspaces":           {"SOURCE_BITBUCKET_WORKSPACES"},
	"destination.email":           {"DEST_ATLASSIAN_EMAIL"},
	"destination.api_token":       {"DEST_BITBUCKET_API_TOKEN"},
	"destination.workspace":       {"DEST_BITBUCKET_WORKSPACE", "BACKUP_WORKSPACE"},
	"destination.workspaces":      {"DEST_BITBUCKET_WORKSPACES"},
	"workspace_include_patterns":  {"WORKSPACE_INCLUDE_PATTERNS"},
	"workspace_exclude_patterns":  {"WORKSPACE_EXCLUDE_PATTERNS"},
	"repo_include_patterns":       {"REPO_INCLUDE_PATTERNS"},
	"repo_exclude_patterns":       {"REPO_EXCLUDE_PATTERNS"},
	"auto_discovery_max_repos":    {"AUTO_DISCOVERY_MAX_REPOS"},
	"preserve_repo_names":         {"PRESERVE_REPO_NAMES"},
	"repo_name_prefix":            {"REPO_NAME_PREFIX"},
	"repo_name_map_file":          {"REPO_NAME_MAP_FILE"},
	"skip_existing_repos":         {"SKIP_EXISTING_REPOS"},
	"create_missing_workspaces":   {"CREATE_MISSING_WORKSPACES"},
	"restore.issues":              {"RESTORE_ISSUES"},
	"restore.prs":                 {"RESTORE_PRS"},
	"restore.wiki":                {"RESTORE_WIKI"},
	"restore.permissions":         {"RESTORE_PERMISSIONS"},
	"restore.branch_restrictions": {"RESTORE_BRANCH_RESTRICTIONS"},
	"restore.webhooks":            {"RESTORE_WEBHOOKS"},
	"restore.deploy_keys":         {"RESTORE_DEPLOY_KEYS"},
	"user_mapping":                {"USER_MAPPING"},
	"clone_timeout":               {"CLONE_TIMEOUT"},
	"push_timeout":                {"PUSH_TIMEOUT"},
	"max_backups":                 {"MAX_BACKUPS"},
	"backup_base_dir":             {"BACKUP_BASE_DIR"},
}

var defaultValues = map[string]any{
	"migration_mode":  true,
	"max_backups":     defaultMaxBackupsConstant,
	"clone_timeout":   defaultCloneTimeoutConstant,
	"push_timeout":    defaultPushTimeoutConstant,
	"backup_base_dir": defaultBackupBaseDirectoryConstant,
}

// Load resolves settings from defaults, an optional YAML file, and the
// environment. Environment values win over the file.
func Load(configurationFilePath string) (Settings, error) {
	viperInstance := viper.New()
	viperInstance.SetConfigType(configurationTypeConstant)

	for defaultKey, defaultValue := range defaultValues {
		viperInstance.SetDefault(defaultKey, defaultValue)
	}
	for viperKey, environmentNames := range environmentBindings {
		bindArguments := append([]string{viperKey}, environmentNames...)
		_ = viperInstance.BindEnv(bindArguments...)
	}

	if len(configurationFilePath) > 0 {
		viperInstance.SetConfigFile(configurationFilePath)
		if readError := viperInstance.ReadInConfig(); readError != nil {
			return Settings{}, fmt.Errorf(configurationReadErrorTemplate, readError)
		}
	}

	var settings Settings
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		secondsToDurationHook,
		commaListHook,
	))
	if unmarshalError := viperInstance.Unmarshal(&settings, decodeHook); unmarshalError != nil {
		return Settings{}, fmt.Errorf(configurationParseErrorTemplate, unmarshalError)
	}

	return settings, nil
}

// secondsToDurationHook interprets bare numbers as whole seconds, matching
// how CLONE_TIMEOUT and PUSH_TIMEOUT have always been expressed.
func secondsToDurationHook(fromType reflect.Type, toType reflect.Type, value any) (any, error) {
	if toType != reflect.TypeOf(time.Duration(0)) {
		return value, nil
	}
	switch typedValue := value.(type) {
	case string:
		if secondsValue, parseError := strconv.Atoi(strings.TrimSpace(typedValue)); parseError == nil {
			return time.Duration(secondsValue) * time.Second, nil
		}
		return time.ParseDuration(strings.TrimSpace(typedValue))
	case int:
		return time.Duration(typedValue) * time.Second, nil
	case int64:
		return time.Duration(typedValue) * time.Second, nil
	case float64:
		return time.Duration(typedValue * float64(time.Second)), nil
	default:
		_ = fromType
		return value, nil
	}
}

// commaListHook splits comma-separated environment strings into slices.
func commaListHook(fromType reflect.Type, toType reflect.Type, value any) (any, error) {
	if fromType.Kind() != reflect.String || toType.Kind() != reflect.Slice {
		return value, nil
	}
	stringValue, isString := value.(string)
	if !isString {
		return value, nil
	}
	return filter.ParsePatternList(stringValue), nil
}

// Validate checks the preconditions that must hold before any repository is
// touched. Failures here are fatal for the run.
func (settings Settings) Validate() error {
	if !settings.SourceCredentials().Configured() {
		return errors.New(missingSourceCredentialsMessageConstant)
	}

	if settings.MultiWorkspaceMode {
		if len(settings.Source.Workspaces) == 0 {
			return errors.New(missingSourceWorkspaceListMessageConstant)
		}
	} else if !settings.AutoDiscoverAll && len(strings.TrimSpace(settings.Source.Workspace)) == 0 {
		return errors.New(missingSourceWorkspaceMessageConstant)
	}

	if settings.MigrationMode && !settings.DestinationCredentials().Configured() {
		return errors.New(missingDestinationCredentialsMessageConstant)
	}

	// Multi-workspace migration derives destination slugs from the source, so
	// it is the only shape that pushes without a configured workspace.
	if settings.DestinationCredentials().Configured() {
		multiWorkspaceMigration := settings.MultiWorkspaceMode && settings.MigrationMode
		if !multiWorkspaceMigration && len(strings.TrimSpace(settings.Destination.Workspace)) == 0 {
			return errors.New(missingDestinationWorkspaceMessageConstant)
		}
	}

	if _, mappingError := restore.ParseUserMapping(settings.UserMapping); mappingError != nil {
		return fmt.Errorf(invalidUserMappingTemplateConstant, mappingError)
	}

	return nil
}

// SourceCredentials returns the source identity.
func (settings Settings) SourceCredentials() forge.Credentials {
	return forge.Credentials{Email: settings.Source.Email, APIToken: settings.Source.APIToken}
}

// DestinationCredentials returns the destination identity.
func (settings Settings) DestinationCredentials() forge.Credentials {
	return forge.Credentials{Email: settings.Destination.Email, APIToken: settings.Destination.APIToken}
}

// WorkspaceFilterSpec builds the workspace-level filter.
func (settings Settings) WorkspaceFilterSpec() filter.Spec {
	return filter.Spec{
		IncludePatterns: settings.WorkspaceIncludePatterns,
		ExcludePatterns: settings.WorkspaceExcludePatterns,
	}
}

// RepositoryFilterSpec builds the repository-level filter with the
// per-workspace cap attached.
func (settings Settings) RepositoryFilterSpec() filter.Spec {
	return filter.Spec{
		IncludePatterns: settings.RepositoryIncludePatterns,
		ExcludePatterns: settings.RepositoryExcludePatterns,
		MaximumCount:    settings.AutoDiscoveryMaxRepos,
	}
}

// RenameRules derives the destination naming policy. Pure backup runs append
// the mirror suffix so backups never collide with live repositories.
func (settings Settings) RenameRules(nameMap map[string]string) reconcile.RenameRules {
	return reconcile.RenameRules{
		PreserveNames:      settings.PreserveRepositoryNames,
		NamePrefix:         settings.RepositoryNamePrefix,
		NameMap:            nameMap,
		AppendMirrorSuffix: !settings.MigrationMode,
	}
}

// RestoreOptions converts the toggles to the restorer's option set.
func (settings Settings) RestoreOptions() restore.Options {
	return restore.Options{
		Issues:             settings.Restore.Issues,
		PullRequests:       settings.Restore.PullRequests,
		Wiki:               settings.Restore.Wiki,
		Webhooks:           settings.Restore.Webhooks,
		BranchRestrictions: settings.Restore.BranchRestrictions,
		Permissions:        settings.Restore.Permissions,
		DeployKeys:         settings.Restore.DeployKeys,
	}
}

// RestoreEnabled reports whether any collaboration facet is selected.
func (settings Settings) RestoreEnabled() bool {
	restoreSettings := settings.Restore
	return restoreSettings.Issues || restoreSettings.PullRequests || restoreSettings.Wiki ||
		restoreSettings.Webhooks || restoreSettings.BranchRestrictions || restoreSettings.Permissions ||
		restoreSettings.DeployKeys
}

// GitTimeouts maps the configured timeouts onto the git manager's bounds.
func (settings Settings) GitTimeouts() gitmirror.Timeouts {
	return gitmirror.Timeouts{
		MirrorClone: settings.CloneTimeout,
		WorkingCopy: settings.CloneTimeout,
		Push:        settings.PushTimeout,
	}
}
