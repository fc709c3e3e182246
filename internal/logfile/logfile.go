// Package logfile provides a logging appender that writes to a size rotated file on disk.
package logfile

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Appender writes log entries to a rotated file.
type Appender struct {
	mu      sync.Mutex
	encoder zapcore.Encoder
	logger  *lumberjack.Logger
}

// NewAppender creates an Appender writing to path. Rotated files are compressed and the two
// most recent are kept.
func NewAppender(path string) *Appender {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return &Appender{
		encoder: zapcore.NewConsoleEncoder(encoderCfg),
		logger: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    100,
			MaxBackups: 2,
			Compress:   true,
		},
	}
}

// Write encodes the entry and appends it to the file.
func (a *Appender) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	buf, err := a.encoder.EncodeEntry(entry, fields)
	if err != nil {
		return err
	}
	defer buf.Free()

	a.mu.Lock()
	defer a.mu.Unlock()
	_, err = a.logger.Write(buf.Bytes())
	return err
}

// Sync is a no-op, every Write goes straight to the file.
func (a *Appender) Sync() error {
	return nil
}

// Close closes the current file.
func (a *Appender) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.logger.Close()
}
