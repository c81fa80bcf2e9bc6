package util

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

// SetupLogger 设置 logrus 的级别和输出格式 (text/json)
func SetupLogger(level, format string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("parse log level: %w", err)
	}

	switch format {
	case "json":
		logrus.SetFormatter(new(logrus.JSONFormatter))
	case "text", "":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("unknown log format %q", format)
	}

	logrus.SetOutput(os.Stdout)
	logrus.SetLevel(lvl)
	return nil
}
