// Package retention вытесняет завершённые run'ы из памяти.
//
// Sweeper периодически (по cron-расписанию, обычно "@every 1m") находит
// run'ы в финальном статусе, завершённые раньше now-TTL, сохраняет их
// последний снимок в историю (если она настроена) и удаляет из реестра.
//
// Использование:
//
//	sweeper, err := retention.New(retention.Config{
//	    Store:    orch,
//	    Archiver: runRepo, // опционально
//	    TTL:      24 * time.Hour,
//	    Schedule: "@every 1m",
//	    Logger:   logger,
//	})
//
//	// Блокируется до отмены ctx
//	sweeper.Start(ctx)
package retention
