// Package logging configures the process-wide logrus instance used by every
// other package via the bare `log "github.com/sirupsen/logrus"` import.
package logging

import (
	"os"

	log "github.com/sirupsen/logrus"
)

// Setup installs a text formatter with full timestamps and sets the level
// from debug, matching the verbosity the rest of the codebase expects from
// log.Debugf/Infof/Warnf/Errorf calls.
func Setup(debug bool) {
	log.SetOutput(os.Stdout)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if debug {
		log.SetLevel(log.DebugLevel)
		return
	}
	log.SetLevel(log.InfoLevel)
}
