// Package cli assembles the bbmigrate command-line interface: the Cobra root
// command, configuration loading, structured logging, and the run, plan, and
// verify subcommands.
package cli
