package main

import (
	"fmt"

	"github.com/robfig/cron/v3"

	appLog "el133/internal/log"
)

// cronLogger routes robfig/cron's logging through the app logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}

// newScheduler returns a stopped scheduler running job on spec, or nil when
// spec is empty. A run that is still refreshing the panel when the next
// tick arrives makes that tick a no-op.
func newScheduler(spec string, job func()) (*cron.Cron, error) {
	if spec == "" {
		return nil, nil
	}
	logger := cronLogger{}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(spec, job); err != nil {
		return nil, fmt.Errorf("invalid refresh schedule %q: %w", spec, err)
	}
	return c, nil
}
