package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup holds the shared logger and the rotating file sink, if one is
// configured.
type Setup struct {
	logger *logrus.Logger
	file   *lumberjack.Logger
}

// Init configures the process logger. When filename is empty, logs go to
// stdout only; otherwise they also go to a size-rotated file.
func Init(level, filename string) (*Setup, error) {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}

	logger := logrus.New()
	logger.SetLevel(parsed)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})

	s := &Setup{logger: logger}
	if filename != "" {
		s.file = &lumberjack.Logger{
			Filename:   filename,
			MaxSize:    100, // megabytes
			MaxBackups: 1,
		}
		logger.SetOutput(io.Discard)
		logger.AddHook(&writerHook{Writer: os.Stdout, LogLevels: availableLevels(parsed)})
		logger.AddHook(&writerHook{Writer: s.file, LogLevels: availableLevels(parsed)})
	}
	return s, nil
}

// Component returns a named logger entry for one subsystem.
func (s *Setup) Component(name string) *logrus.Entry {
	return s.logger.WithField("name", name)
}

// Close flushes and closes the log file, if any.
func (s *Setup) Close() {
	if s.file != nil {
		_ = s.file.Close()
	}
}

// writerHook writes logs to the specified writer for provided levels.
type writerHook struct {
	Writer    io.Writer
	LogLevels []logrus.Level
}

func (h *writerHook) Fire(e *logrus.Entry) error {
	line, err := e.String()
	if err != nil {
		return err
	}
	_, err = h.Writer.Write([]byte(line))
	return err
}

func (h *writerHook) Levels() []logrus.Level {
	return h.LogLevels
}

func availableLevels(min logrus.Level) []logrus.Level {
	levels := []logrus.Level{}
	for _, l := range logrus.AllLevels {
		if l <= min {
			levels = append(levels, l)
		}
	}
	return levels
}
