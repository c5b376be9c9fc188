// Package utils holds the command-line plumbing shared by ghmigrate commands.
//
// ConfigurationLoader layers embedded defaults, configuration files and
// GHMIGRATE_ environment variables through Viper. LoggerFactory builds the zap
// loggers handed to every component. CommandContextAccessor carries per-invocation
// values such as the run identifier through command contexts.
package utils
