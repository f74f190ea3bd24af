/*
Package log provides structured logging for chbackup using zerolog.

A single global zerolog.Logger is configured once via Init and shared by
every orchestrator. Component loggers (WithComponent, WithBackup, WithTable,
WithPart) attach the fields that matter for this domain — backup name,
database/table, part name — instead of repeating them on every call site.

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	bl := log.WithBackup(backupName)
	bl.Info().Str("database", db).Msg("starting database backup")
*/
package log
