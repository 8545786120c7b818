/*
Package log wraps zerolog with the conventions used across the Zoe master.

Init configures the global Logger once at start-up; packages then derive
child loggers carrying a component field:

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	logger := log.WithComponent("manager")
	logger.Info().Uint64("execution_id", id).Msg("Execution started")

WithExecutionID scopes a logger to one execution, WithTask tags output
from a periodic task. Child loggers copy the global logger at the time they
are created, so components must be built after Init.
*/
package log
