// Package logging builds the process zap logger.
//
// Production output is JSON on stderr; development output is colored
// console text at debug level. Subsystems take a named child via Component,
// and per-session log lines carry session_id and stack_id via Session:
//
//	logger := logging.NewDefault()
//	engine := sandbox.NewEngine(cfg, logger.Component("sandbox"))
//	logger.Session("s1", "inventory").Info("session loaded")
package logging
