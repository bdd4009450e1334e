// Package debug configures the process-wide log verbosity.
//
// LUXO_DEBUG selects the level: 1 enables debug logging and 2 or
// higher enables trace logging. WAYLAND_DEBUG is honoured as a fallback
// so that existing habits keep working.
package debug

import (
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
)

func init() {
	for _, env := range []string{"LUXO_DEBUG", "WAYLAND_DEBUG"} {
		level, err := strconv.ParseInt(os.Getenv(env), 10, 0)
		if err != nil {
			continue
		}
		SetLevel(int(level))
		return
	}
}

// SetLevel maps a numeric verbosity onto the logger.
func SetLevel(level int) {
	switch {
	case level >= 2:
		logrus.SetLevel(logrus.TraceLevel)
	case level == 1:
		logrus.SetLevel(logrus.DebugLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}
}

// Printf logs at trace level. It is meant for per-frame chatter that
// would drown everything else at debug level.
func Printf(str string, args ...any) {
	logrus.Tracef(str, args...)
}
