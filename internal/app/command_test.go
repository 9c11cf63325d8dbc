package app_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/temirov/bbmigrate/internal/app"
	"github.com/temirov/bbmigrate/internal/config"
)

func TestPlanCommandPrintsReconciledActions(testInstance *testing.T) {
	server := newForgeServer(testInstance, []string{"library"})
	application := app.NewApplicationWithBaseURL(zap.NewNop(), server.URL)

	outputBuffer := &bytes.Buffer{}
	settings := migrationSettings()
	builder := app.PlanCommandBuilder{
		LoggerProvider:   func() *zap.Logger { return zap.NewNop() },
		SettingsProvider: func() config.Settings { return settings },
		Application:      application,
		OutputWriter:     outputBuffer,
	}

	planCommand, buildError := builder.Build()
	require.NoError(testInstance, buildError)

	require.NoError(testInstance, planCommand.Execute())

	planOutput := outputBuffer.String()
	require.Contains(testInstance, planOutput, "Plan: 1 workspace(s), 2 repositories")
	require.Contains(testInstance, planOutput, "[create] acme/app -> backup-workspace/app")
	require.Contains(testInstance, planOutput, "[skip_exists] acme/library -> backup-workspace/library")
}

func TestPlanCommandBuilderRequiresProviders(testInstance *testing.T) {
	builder := app.PlanCommandBuilder{}
	_, buildError := builder.Build()
	require.Error(testInstance, buildError)
}

func TestVerifyCommandReportsConfigurationProblems(testInstance *testing.T) {
	application := app.NewApplicationWithBaseURL(zap.NewNop(), "http://127.0.0.1:0")

	outputBuffer := &bytes.Buffer{}
	settings := migrationSettings()
	settings.Source.APIToken = ""
	builder := app.VerifyCommandBuilder{
		LoggerProvider:   func() *zap.Logger { return zap.NewNop() },
		SettingsProvider: func() config.Settings { return settings },
		Application:      application,
		OutputWriter:     outputBuffer,
	}

	verifyCommand, buildError := builder.Build()
	require.NoError(testInstance, buildError)

	require.Error(testInstance, verifyCommand.Execute())
	require.Contains(testInstance, outputBuffer.String(), "configuration: INVALID")
}
