/*
Package log provides structured logging for kodegen-release using zerolog.

There is one process-wide root logger, configured once from the CLI flags;
subsystems derive tagged child loggers at the call site. Three tags cover
everything this tool needs to filter on: the component (state, upload,
docker, ...), the release phase, and the bundler platform.

	log.Init("debug", false)
	logger := log.WithComponent("orchestrator")
	logger.Info().Str("version", "1.2.3").Msg("starting release")
*/
package log
