package conf

import "github.com/tphakala/fieldwatch/internal/logger"

// GetLogger returns the config module logger. It is looked up on each
// call because the central logger is installed after config is loaded.
func GetLogger() logger.Logger {
	return logger.Global().Module("config")
}
