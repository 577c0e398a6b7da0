// Package serve implements the serve sub-command, which runs the engine
// together with every enabled input and output.
package serve

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tphakala/fieldwatch/internal/api"
	"github.com/tphakala/fieldwatch/internal/buildinfo"
	"github.com/tphakala/fieldwatch/internal/conf"
	"github.com/tphakala/fieldwatch/internal/engine"
	"github.com/tphakala/fieldwatch/internal/errors"
	"github.com/tphakala/fieldwatch/internal/history"
	"github.com/tphakala/fieldwatch/internal/ingest"
	"github.com/tphakala/fieldwatch/internal/logger"
	"github.com/tphakala/fieldwatch/internal/observability"
	"github.com/tphakala/fieldwatch/internal/privacy"
	"github.com/tphakala/fieldwatch/internal/push"
	"github.com/tphakala/fieldwatch/internal/thresholds"
)

const sentryFlushTimeout = 2 * time.Second

func getLogger() logger.Logger {
	return logger.Global().Module("serve")
}

// Command creates the serve command
func Command(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	var listen string
	var mqttEnabled bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the alert engine",
		Long:  "Start the engine with the HTTP API, MQTT ingestion, push notifications and telemetry as configured.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("listen") {
				settings.WebServer.Listen = listen
			}
			if cmd.Flags().Changed("mqtt") {
				settings.MQTT.Enabled = mqttEnabled
			}
			return Run(cmd.Context(), settings, build)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "HTTP API listen address (overrides webserver.listen)")
	cmd.Flags().BoolVar(&mqttEnabled, "mqtt", false, "Enable MQTT reading ingestion (overrides mqtt.enabled)")
	return cmd
}

// Run wires every component from settings and blocks until a signal
// arrives or a component fails.
func Run(ctx context.Context, settings *conf.Settings, build *buildinfo.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := getLogger()
	log.Info("starting fieldwatch",
		logger.String("version", build.GetVersion()),
		logger.String("instance", settings.Main.Name))

	flushSentry, err := initSentry(settings.Sentry, build)
	if err != nil {
		return err
	}
	defer flushSentry()

	m, err := observability.NewMetrics()
	if err != nil {
		return err
	}
	errors.AddErrorHook(m.ObserveError)
	defer errors.ClearErrorHooks()

	store, overrides, err := openHistory(settings.History)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("history store close failed", logger.Error(err))
		}
	}()

	var regOpts []thresholds.Option
	if overrides != nil {
		regOpts = append(regOpts, thresholds.WithStore(overrides))
	}
	registry, err := engine.BuildRegistry(settings, regOpts...)
	if err != nil {
		return err
	}

	engOpts := []engine.Option{engine.WithMetrics(m.Engine)}
	sink, closeSink, err := readingSink(settings, store)
	if err != nil {
		return err
	}
	defer closeSink()
	if sink != nil {
		engOpts = append(engOpts, engine.WithReadingSink(sink))
	}

	eng := engine.New(engine.ConfigFrom(settings), registry, store, engOpts...)
	if err := eng.Start(ctx); err != nil {
		return err
	}
	defer eng.Stop()

	g, gctx := errgroup.WithContext(ctx)

	if settings.WebServer.Enabled {
		srv, err := api.New(settings.WebServer, eng)
		if err != nil {
			return err
		}
		g.Go(func() error { return srv.Run(gctx) })
	}

	if settings.Telemetry.Enabled {
		endpoint, err := observability.NewEndpoint(settings.Telemetry, m)
		if err != nil {
			return err
		}
		g.Go(func() error { return endpoint.Run(gctx) })
	}

	if settings.MQTT.Enabled {
		sub := ingest.NewSubscriber(ingest.ConfigFrom(settings.MQTT, settings.Main.Name), eng,
			ingest.WithMetrics(m.MQTT))
		g.Go(func() error { return sub.Run(gctx) })
	}

	if settings.Push.Enabled {
		cfg, err := push.ConfigFrom(settings.Push, settings.Main.Name)
		if err != nil {
			return err
		}
		notifier, err := push.New(cfg, eng, push.WithMetrics(m.Push))
		if err != nil {
			return err
		}
		g.Go(func() error { return notifier.Run(gctx) })
	}

	err = g.Wait()
	log.Info("fieldwatch stopped")
	return err
}

func openHistory(s conf.HistorySettings) (history.Store, *thresholds.GormOverrideStore, error) {
	if s.Driver == conf.DriverMemory {
		return history.NewMemoryStore(), nil, nil
	}

	db, err := history.OpenDatabase(s)
	if err != nil {
		return nil, nil, err
	}
	store, err := history.NewGormStore(db)
	if err != nil {
		return nil, nil, err
	}
	overrides, err := thresholds.NewGormOverrideStore(db)
	if err != nil {
		return nil, nil, err
	}
	return store, overrides, nil
}

// readingSink combines the history store, when raw readings are kept,
// with the InfluxDB sink, when enabled.
func readingSink(settings *conf.Settings, store history.Store) (history.ReadingSink, func(), error) {
	var sinks history.MultiSink
	closeFn := func() {}

	if settings.History.StoreReadings {
		if rs, ok := store.(history.ReadingSink); ok {
			sinks = append(sinks, rs)
		}
	}
	if settings.Influx.Enabled {
		influx, err := history.NewInfluxSink(settings.Influx)
		if err != nil {
			return nil, closeFn, err
		}
		sinks = append(sinks, influx)
		closeFn = influx.Close
	}

	switch len(sinks) {
	case 0:
		return nil, closeFn, nil
	case 1:
		return sinks[0], closeFn, nil
	default:
		return sinks, closeFn, nil
	}
}

func initSentry(s conf.SentrySettings, build *buildinfo.Context) (func(), error) {
	if !s.Enabled {
		return func() {}, nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              s.DSN,
		Release:          "fieldwatch@" + build.GetVersion(),
		AttachStacktrace: true,
		SendDefaultPII:   false,
	})
	if err != nil {
		return nil, errors.New(err).
			Component("serve").
			Category(errors.CategoryConfiguration).
			Build()
	}
	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("system_id", build.GetSystemID())
	})
	errors.SetPrivacyScrubber(privacy.ScrubMessage)
	errors.SetTelemetryReporter(errors.NewSentryReporter(true))

	return func() {
		errors.SetTelemetryReporter(nil)
		errors.SetPrivacyScrubber(nil)
		sentry.Flush(sentryFlushTimeout)
	}, nil
}
