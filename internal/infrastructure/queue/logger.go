package queue

import (
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/jhoicas/stock-ledger-api/pkg/logger"
)

var _ asynq.Logger = (*asynqLogger)(nil)

// asynqLogger adapta el logger zerolog de la app a asynq.Logger.
type asynqLogger struct {
	log *logger.Logger
}

// NewAsynqLogger envuelve el logger de la app.
func NewAsynqLogger(log *logger.Logger) asynq.Logger {
	return &asynqLogger{log: log}
}

func (l *asynqLogger) Debug(args ...interface{}) {
	l.log.Debug().Str("component", "asynq").Msg(fmt.Sprint(args...))
}

func (l *asynqLogger) Info(args ...interface{}) {
	l.log.Info().Str("component", "asynq").Msg(fmt.Sprint(args...))
}

func (l *asynqLogger) Warn(args ...interface{}) {
	l.log.Warn().Str("component", "asynq").Msg(fmt.Sprint(args...))
}

func (l *asynqLogger) Error(args ...interface{}) {
	l.log.Error().Str("component", "asynq").Msg(fmt.Sprint(args...))
}

func (l *asynqLogger) Fatal(args ...interface{}) {
	l.log.Fatal().Str("component", "asynq").Msg(fmt.Sprint(args...))
}
