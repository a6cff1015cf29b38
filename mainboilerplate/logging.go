// Package mainboilerplate collects the small bits of CLI and logging setup
// shared by the shop, robot and screen binaries: go-flags option groups and
// the logrus configuration glue. Modeled on the teacher's own
// mainboilerplate package (referenced, not included, in the retrieved
// pack's examples/word-count/wordcountctl/main.go as mbp.LogConfig /
// mbp.Must / mbp.MustParseArgs) and rebuilt here to the same shape.
package mainboilerplate

import (
	"os"

	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"
)

// LogConfig is the logging option group shared by all three binaries.
type LogConfig struct {
	Level string `long:"debug-level" short:"d" default:"info" description:"Logging level: debug, info, warn, error"`
}

// Configure applies the parsed LogConfig to the global logrus logger.
func (c LogConfig) Configure() {
	level, err := log.ParseLevel(c.Level)
	if err != nil {
		log.WithField("level", c.Level).Warn("unrecognized debug level, defaulting to info")
		level = log.InfoLevel
	}
	log.SetLevel(level)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
}

// Must aborts the process with a fatal log entry if err is non-nil,
// matching the teacher's mbp.Must(err, message) idiom.
func Must(err error, message string) {
	if err != nil {
		log.WithError(err).Fatal(message)
	}
}

// MustParseArgs parses os.Args with the given go-flags parser, exiting
// cleanly on -h/--help and fatally logging any other parse error.
func MustParseArgs(parser *flags.Parser) {
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		log.WithError(err).Fatal("failed to parse arguments")
	}
}
