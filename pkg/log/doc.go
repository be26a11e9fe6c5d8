/*
Package log wraps zerolog to provide structured logging with
component/job/worker/queue child loggers throughout the job engine.

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	logger := log.WithJobID(job.UUID)
	logger.Info().Str("target", job.Target).Msg("job claimed")

Config.Output defaults to stdout when nil. WithComponent/WithJobID/
WithWorkerID/WithQueueName each return a child logger with that field
pre-bound, so call sites never repeat the same Str(...) pair.
*/
package log
