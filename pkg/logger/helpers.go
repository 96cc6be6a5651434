package logger

import (
	"github.com/rs/zerolog"
)

// Log messages that tooling and tests match on.
const (
	MsgDownloaded        = "document downloaded"
	MsgSkipped           = "document already present"
	MsgDownloadFailed    = "download failed"
	MsgPaginationStopped = "pagination stopped"
)

// LogDownload logs the outcome of one document download.
func LogDownload(l Logger, fields map[string]interface{}, skipped bool, err error) {
	switch {
	case err != nil:
		l.WithError(err).ErrorWithFields(MsgDownloadFailed, fields)
	case skipped:
		l.DebugWithFields(MsgSkipped, fields)
	default:
		l.InfoWithFields(MsgDownloaded, fields)
	}
}

// NewNopLogger creates a no-operation logger for testing
func NewNopLogger() Logger {
	return &nopLogger{}
}

type nopLogger struct{}

func (n *nopLogger) Debug(msg string)                                          {}
func (n *nopLogger) Info(msg string)                                           {}
func (n *nopLogger) Warn(msg string)                                           {}
func (n *nopLogger) Error(msg string)                                          {}
func (n *nopLogger) WithField(key string, value interface{}) Logger            { return n }
func (n *nopLogger) WithFields(fields map[string]interface{}) Logger           { return n }
func (n *nopLogger) WithError(err error) Logger                                { return n }
func (n *nopLogger) DebugWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) InfoWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) WarnWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) ErrorWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) GetZerolog() *zerolog.Logger                               { return nil }
