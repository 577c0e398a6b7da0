package conf

import (
	"time"

	"github.com/spf13/viper"
)

const day = 24 * time.Hour

// setDefaultConfig sets default values for every configuration key.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("main.name", "fieldwatch")
	v.SetDefault("main.debug", false)

	v.SetDefault("logging.defaultlevel", "info")
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", true)
	v.SetDefault("logging.console.level", "info")
	v.SetDefault("logging.fileoutput.enabled", false)
	v.SetDefault("logging.fileoutput.path", "logs/fieldwatch.log")
	v.SetDefault("logging.fileoutput.level", "info")
	v.SetDefault("logging.modulelevels", map[string]string{})

	v.SetDefault("engine.clockskew", 30*time.Second)
	v.SetDefault("engine.hysteresis", 3)
	v.SetDefault("engine.cooldown.low", 30*time.Minute)
	v.SetDefault("engine.cooldown.high", 10*time.Minute)
	v.SetDefault("engine.cooldown.critical", 2*time.Minute)
	v.SetDefault("engine.retention", 30*day)
	v.SetDefault("engine.cleanupinterval", time.Hour)
	v.SetDefault("engine.restoreonstart", true)

	v.SetDefault("thresholds", map[string]any{})

	v.SetDefault("maintenance.calibration", 90*day)
	v.SetDefault("maintenance.cleaning", 30*day)
	v.SetDefault("maintenance.batterycheck", 7*day)
	v.SetDefault("maintenance.firmwareupdate", 180*day)
	v.SetDefault("maintenance.firmware.channel", "stable")
	v.SetDefault("maintenance.firmware.checkinterval", day)
	v.SetDefault("maintenance.firmware.autoupdate", false)

	v.SetDefault("fanout.queuesize", 256)
	v.SetDefault("fanout.deliverytimeout", 5*time.Second)
	v.SetDefault("fanout.maxdeliveryfailures", 3)
	v.SetDefault("fanout.overflow", OverflowDisconnect)

	v.SetDefault("history.driver", DriverSQLite)
	v.SetDefault("history.path", "fieldwatch.db")
	v.SetDefault("history.dsn", "")
	v.SetDefault("history.queuesize", 1024)
	v.SetDefault("history.backlogsize", 10000)
	v.SetDefault("history.appendtimeout", 5*time.Second)
	v.SetDefault("history.retry.initialinterval", 200*time.Millisecond)
	v.SetDefault("history.retry.maxinterval", 5*time.Second)
	v.SetDefault("history.retry.maxattempts", 5)
	v.SetDefault("history.retry.maxelapsed", 30*time.Second)
	v.SetDefault("history.breaker.consecutivefailures", 5)
	v.SetDefault("history.breaker.opentimeout", 30*time.Second)
	v.SetDefault("history.breaker.interval", time.Minute)
	v.SetDefault("history.storereadings", true)

	v.SetDefault("influx.enabled", false)
	v.SetDefault("influx.url", "http://localhost:8086")
	v.SetDefault("influx.token", "")
	v.SetDefault("influx.org", "fieldwatch")
	v.SetDefault("influx.bucket", "readings")
	v.SetDefault("influx.timeout", 5*time.Second)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.clientid", "")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topicprefix", "fieldwatch")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.publishrejections", true)

	v.SetDefault("push.enabled", false)
	v.SetDefault("push.urls", []string{})
	v.SetDefault("push.minseverity", "high")
	v.SetDefault("push.rate", 0.2)
	v.SetDefault("push.burst", 3)
	v.SetDefault("push.timeout", 10*time.Second)

	v.SetDefault("webserver.enabled", true)
	v.SetDefault("webserver.listen", ":8080")
	v.SetDefault("webserver.heartbeat", 15*time.Second)
	v.SetDefault("webserver.origins", []string{})

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.listen", ":9090")

	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.dsn", "")
}
