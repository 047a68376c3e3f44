package rflog

import (
	"os"
	"strings"

	logging "github.com/ipfs/go-log/v2"
)

// SetupLogLevels applies LOG_LEVEL to every subsystem.
func SetupLogLevels() {
	Configure(os.Getenv("LOG_LEVEL"))
}

// Configure sets all loggers to level unless GOLOG_LOG_LEVEL is set, in
// which case go-log has already configured itself.
func Configure(level string) {
	if _, set := os.LookupEnv("GOLOG_LOG_LEVEL"); set {
		return
	}

	SetLevel(level)
	// chatty third-party subsystems
	_ = logging.SetLogLevel("rpc", "ERROR")
}

// SetLevel sets all loggers to level, falling back to INFO for unknown or
// empty names.
func SetLevel(level string) {
	lvl, err := logging.LevelFromString(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		lvl = logging.LevelInfo
	}
	logging.SetAllLoggers(lvl)
}
