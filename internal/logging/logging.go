// Package logging builds the structured logrus logger shared by the
// dispatcher, the TLS front end, and cmd/reverseproxyd, in the field-heavy style the
// pack's containerd/compose lineage logs with.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/WhileEndless/go-reverse-proxy/internal/config"
)

// New builds a *logrus.Logger from the Logging config section: a parsed
// level and the default text formatter (JSON is left to the caller to
// swap in via SetFormatter).
func New(cfg config.Logging) *logrus.Logger {
	logger := logrus.New()
	logger.Out = os.Stderr

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger
}

// ConnFields builds a set of per-connection log fields: which connection,
// which state, and (once known) which status.
func ConnFields(connID int, state string, status int) logrus.Fields {
	f := logrus.Fields{
		"conn":  connID,
		"state": state,
	}
	if status != 0 {
		f["status"] = status
	}
	return f
}
