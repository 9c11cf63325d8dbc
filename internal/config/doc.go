// Package config loads run settings from an optional YAML file and the
// environment-variable surface the deployment scripts already use. Variable
// names are part of the tool's compatibility contract and never change.
package config
