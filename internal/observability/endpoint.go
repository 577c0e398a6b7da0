package observability

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/tphakala/fieldwatch/internal/conf"
	"github.com/tphakala/fieldwatch/internal/errors"
	"github.com/tphakala/fieldwatch/internal/logger"
	metricspkg "github.com/tphakala/fieldwatch/internal/observability/metrics"
)

// Endpoint serves Prometheus metrics on the telemetry listener.
type Endpoint struct {
	listenAddress string
	metrics       *Metrics
}

// NewEndpoint creates a telemetry endpoint. It fails when telemetry is
// disabled in settings.
func NewEndpoint(settings conf.TelemetrySettings, metrics *Metrics) (*Endpoint, error) {
	if !settings.Enabled {
		return nil, errors.Newf("telemetry not enabled in settings").
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}

	return &Endpoint{
		listenAddress: settings.Listen,
		metrics:       metrics,
	}, nil
}

// Run serves /metrics until ctx is cancelled, then shuts the server down.
func (e *Endpoint) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", e.listenAddress)
	if err != nil {
		return errors.New(err).
			Component("telemetry").
			Category(errors.CategoryNetwork).
			Context("listen", e.listenAddress).
			Build()
	}
	return e.Serve(ctx, listener)
}

// Serve runs the endpoint on an existing listener.
func (e *Endpoint) Serve(ctx context.Context, listener net.Listener) error {
	mux := http.NewServeMux()
	e.metrics.RegisterHandlers(mux)

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		getLogger().Info("telemetry endpoint starting", logger.String("address", listener.Addr().String()))
		errCh <- server.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.New(err).
				Component("telemetry").
				Category(errors.CategoryNetwork).
				Build()
		}
		return nil
	case <-ctx.Done():
	}

	getLogger().Info("stopping telemetry server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), metricspkg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		getLogger().Error("telemetry server shutdown error", logger.Error(err))
		return err
	}
	<-errCh
	return nil
}
