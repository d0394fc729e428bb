// Package log provides PICCOLO's structured logging, a thin wrapper over
// zerolog with component- and resource-scoped child loggers.
package log
