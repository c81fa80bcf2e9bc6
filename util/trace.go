package util

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Trace 记录耗时，用法: defer util.Trace("batch")()
func Trace(name string) func() {
	start := time.Now()
	logrus.Debugf("%s started", name)
	return func() {
		logrus.WithField("elapsed", time.Since(start).String()).Infof("%s finished", name)
	}
}
