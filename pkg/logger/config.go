// Package logger configures logrus loggers from the log section of the configuration.
package logger

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Log output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Config is the log section of the configuration.
type Config struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	// Color only affects the text format.
	Color bool `json:"color"`
	// Caller adds the calling function and file to every entry.
	Caller bool `json:"caller"`
}

// DefaultConfig logs colored text at info level.
func DefaultConfig() *Config {
	return &Config{Level: "info", Format: FormatText, Color: true}
}

// Validate implements the check.Validatable interface.
func (c Config) Validate() []error {
	var errs []error
	if _, err := logrus.ParseLevel(c.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Format != FormatText && c.Format != FormatJSON {
		errs = append(errs, errors.Errorf("log format must be %q or %q, got %q",
			FormatText, FormatJSON, c.Format))
	}
	return errs
}

func (c Config) formatter() logrus.Formatter {
	if c.Format == FormatJSON {
		return &logrus.JSONFormatter{}
	}
	return &logrus.TextFormatter{
		FullTimestamp: true,
		ForceColors:   c.Color,
		DisableColors: !c.Color,
	}
}

// Apply reconfigures l. An unparsable level is returned and l is left untouched.
func (c Config) Apply(l *logrus.Logger) error {
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return errors.Wrap(err, "configuring logger")
	}
	l.SetLevel(level)
	l.SetFormatter(c.formatter())
	l.SetReportCaller(c.Caller)
	return nil
}

// SetLogrus applies c to the standard logger, panicking if c is invalid.
func SetLogrus(c Config) {
	if err := c.Apply(logrus.StandardLogger()); err != nil {
		panic(err)
	}
}
