// Package cli constructs the ghmigrate command-line interface. It wires the Cobra
// root command, the Viper configuration loader with embedded defaults, and the zap
// logger, then attaches one subcommand per migration phase plus "full".
package cli
