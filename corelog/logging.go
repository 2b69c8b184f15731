// Package corelog provides the logging infrastructure shared by every
// component in entitysync that logs: the client, the durable queue, the
// scheduler, the processor, and the relationship controller.
//
// The system is built on logrus with a custom output writer that routes
// error-level entries to stderr and everything else to stdout, so that
// container log collectors can treat the two streams differently. A
// ContextLogger wraps a *logrus.Logger with an accumulated field set,
// letting each component scope its lines with a stable "component"
// field without threading a context object through every call.
package corelog

import (
	"bytes"
	"os"

	"github.com/sirupsen/logrus"
)

// OutputSplitter routes formatted log lines to stderr or stdout based on
// level, so that orchestrators capturing the two streams separately see
// errors promoted to the higher-priority stream.
type OutputSplitter struct{}

func (OutputSplitter) Write(p []byte) (int, error) {
	if bytes.Contains(p, []byte("level=error")) || bytes.Contains(p, []byte("level=fatal")) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}

// Root is the process-global logger instance. Components should not log
// directly against it; call Scoped to obtain a ContextLogger carrying a
// "component" field instead.
var Root = logrus.New()

func init() {
	Root.SetOutput(OutputSplitter{})
	Root.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// Options configures the root logger at process startup.
type Options struct {
	Level  logrus.Level
	JSON   bool
	Output *logrus.Logger // override Root entirely, mainly for tests
}

// Configure applies Options to Root. Safe to call once at startup;
// calling it again simply re-applies the new options.
func Configure(opts Options) {
	if opts.Output != nil {
		Root = opts.Output
	}
	Root.SetLevel(opts.Level)
	if opts.JSON {
		Root.SetFormatter(&logrus.JSONFormatter{})
	} else {
		Root.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

// ContextLogger accumulates structured fields for a single component or
// operation and forwards to the underlying *logrus.Logger.
type ContextLogger struct {
	logger *logrus.Logger
	fields logrus.Fields
}

// Scoped returns a ContextLogger tagged with component=name.
func Scoped(component string) *ContextLogger {
	return &ContextLogger{logger: Root, fields: logrus.Fields{"component": component}}
}

// WithField returns a derived logger with an additional field.
func (c *ContextLogger) WithField(key string, value interface{}) *ContextLogger {
	next := make(logrus.Fields, len(c.fields)+1)
	for k, v := range c.fields {
		next[k] = v
	}
	next[key] = value
	return &ContextLogger{logger: c.logger, fields: next}
}

// WithFields returns a derived logger with additional fields merged in.
func (c *ContextLogger) WithFields(fields map[string]interface{}) *ContextLogger {
	next := make(logrus.Fields, len(c.fields)+len(fields))
	for k, v := range c.fields {
		next[k] = v
	}
	for k, v := range fields {
		next[k] = v
	}
	return &ContextLogger{logger: c.logger, fields: next}
}

// WithError attaches an error field.
func (c *ContextLogger) WithError(err error) *ContextLogger {
	return c.WithField("error", err)
}

func (c *ContextLogger) Debug(args ...interface{}) { c.logger.WithFields(c.fields).Debug(args...) }
func (c *ContextLogger) Info(args ...interface{})  { c.logger.WithFields(c.fields).Info(args...) }
func (c *ContextLogger) Warn(args ...interface{})  { c.logger.WithFields(c.fields).Warn(args...) }
func (c *ContextLogger) Error(args ...interface{}) { c.logger.WithFields(c.fields).Error(args...) }

func (c *ContextLogger) Debugf(format string, args ...interface{}) {
	c.logger.WithFields(c.fields).Debugf(format, args...)
}
func (c *ContextLogger) Infof(format string, args ...interface{}) {
	c.logger.WithFields(c.fields).Infof(format, args...)
}
func (c *ContextLogger) Warnf(format string, args ...interface{}) {
	c.logger.WithFields(c.fields).Warnf(format, args...)
}
func (c *ContextLogger) Errorf(format string, args ...interface{}) {
	c.logger.WithFields(c.fields).Errorf(format, args...)
}
