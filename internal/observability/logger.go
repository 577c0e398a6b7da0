package observability

import "github.com/tphakala/fieldwatch/internal/logger"

func getLogger() logger.Logger {
	return logger.Global().Module("telemetry")
}
