// Package logger provides the structured logger used across docharvest.
//
// It wraps zerolog behind a small interface with field helpers. A run
// normally logs to two sinks at once: a colored console on stderr and the
// append-only, human-readable download.log inside the output directory.
//
//	log, err := logger.New(&config.LoggingConfig{
//	    Level:   "info",
//	    File:    "/data/out/download.log",
//	    Console: true,
//	})
//	defer logger.Close(log)
//
//	log.WithField("dataset", 3).Info("pagination stopped")
//	log.InfoWithFields("document downloaded", map[string]interface{}{
//	    "id": "EFTA00001234",
//	})
package logger
