package logger

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

type Logger struct {
	zl zerolog.Logger
}

// New builds a leveled logger writing to filePath (appended, created if
// missing) and optionally to a console writer on stdout. An empty filePath
// disables the file sink.
func New(filePath string, level string, includeStdout bool) (*Logger, error) {
	var writers []io.Writer

	if filePath != "" {
		f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, err
		}
		writers = append(writers, f)
	}

	if includeStdout || len(writers) == 0 {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "2006-01-02 15:04:05",
		})
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(ParseLevel(level)).
		With().
		Timestamp().
		Logger()

	return &Logger{zl: zl}, nil
}

// NewNop returns a logger that discards everything. Used by tests.
func NewNop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

func ParseLevel(lvl string) zerolog.Level {
	switch strings.ToLower(lvl) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (l *Logger) Debug(f string, v ...any) { l.zl.Debug().Msgf(f, v...) }
func (l *Logger) Info(f string, v ...any)  { l.zl.Info().Msgf(f, v...) }
func (l *Logger) Warn(f string, v ...any)  { l.zl.Warn().Msgf(f, v...) }
func (l *Logger) Error(f string, v ...any) { l.zl.Error().Msgf(f, v...) }
func (l *Logger) Fatal(f string, v ...any) { l.zl.Fatal().Msgf(f, v...) }
