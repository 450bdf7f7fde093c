package config

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/lakewriter/deltaingest/pkg/errors"
)

// logManager handles size-based log file rotation.
type logManager struct {
	cfg        *LogConfig
	currentLog *os.File
}

// CleanupLogFile truncates an existing log file so a fresh run starts with
// an empty file.
func CleanupLogFile(filePath string) error {
	if filePath == "" {
		return nil
	}
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return errors.New(errors.CodePermanentIO, "failed to create log directory", err)
	}
	file, err := os.OpenFile(filePath, os.O_WRONLY|os.O_TRUNC, 0o666)
	if err != nil {
		return errors.New(errors.CodePermanentIO, "failed to truncate log file", err)
	}
	return file.Close()
}

func (lm *logManager) getWriter() (io.Writer, error) {
	if lm.cfg.File == "" {
		return nil, errors.ValidationFailure("logging.file must be set to use file output")
	}
	if err := os.MkdirAll(filepath.Dir(lm.cfg.File), 0o755); err != nil {
		return nil, errors.New(errors.CodePermanentIO, "failed to create log directory", err)
	}
	if err := lm.checkRotation(); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(lm.cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
	if err != nil {
		return nil, errors.New(errors.CodePermanentIO, "failed to open log file", err)
	}
	lm.currentLog = file
	return file, nil
}

func (lm *logManager) checkRotation() error {
	if lm.cfg.MaxSizeMB <= 0 {
		return nil
	}
	info, err := os.Stat(lm.cfg.File)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.New(errors.CodePermanentIO, "failed to stat log file", err)
	}
	maxBytes := int64(lm.cfg.MaxSizeMB) * 1024 * 1024
	if info.Size() < maxBytes {
		return nil
	}
	return lm.rotate()
}

func (lm *logManager) rotate() error {
	if lm.currentLog != nil {
		lm.currentLog.Close()
		lm.currentLog = nil
	}
	backupPath := lm.cfg.File + "." + time.Now().Format("2006-01-02-15-04-05")
	if err := os.Rename(lm.cfg.File, backupPath); err != nil {
		return errors.New(errors.CodePermanentIO, "failed to rotate log file", err)
	}
	return nil
}

// SetupLogger builds the process's root zerolog.Logger from configuration.
// Components derive child loggers via logger.With().Str("component", name).
func SetupLogger(cfg *LogConfig) (zerolog.Logger, error) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var writers []io.Writer
	if cfg.Format == "console" {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		writers = append(writers, os.Stdout)
	}

	if cfg.File != "" {
		if cfg.Cleanup {
			if err := CleanupLogFile(cfg.File); err != nil {
				return zerolog.Logger{}, err
			}
		}
		lm := &logManager{cfg: cfg}
		fw, err := lm.getWriter()
		if err != nil {
			return zerolog.Logger{}, err
		}
		writers = append(writers, fw)
	}

	var w io.Writer
	if len(writers) == 1 {
		w = writers[0]
	} else {
		w = zerolog.MultiLevelWriter(writers...)
	}

	return zerolog.New(w).With().Timestamp().Str("component", "deltaingestd").Logger(), nil
}
