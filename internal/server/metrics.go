package server

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/errors"
	"go.uber.org/zap"

	"github.com/daniel-caso-github/users-insights/internal/config"
	apperrors "github.com/daniel-caso-github/users-insights/internal/errors"
	"github.com/daniel-caso-github/users-insights/internal/observability"
)

const (
	defaultMetricsPort  = 9090
	prometheusTextType  = "text/plain; version=0.0.4"
	metricsProxyTimeout = 5 * time.Second
)

// hopHeaders belong to the exporter connection and are not forwarded.
var hopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

var metricsProxyClient = &http.Client{Timeout: metricsProxyTimeout}

// exporterURL locates the in-process Prometheus exporter: the port it bound,
// then the configured port, then the default.
func exporterURL() string {
	port := observability.GetMetricsPort()
	if port == 0 {
		if cfg := config.GetConfig(); cfg != nil {
			port = cfg.Metrics.Port
		}
	}
	if port == 0 {
		port = defaultMetricsPort
	}
	return fmt.Sprintf("http://127.0.0.1:%d/metrics", port)
}

// MetricsHandler serves /metrics by relaying the exporter's scrape, so one
// port exposes both the insights API and its telemetry.
func MetricsHandler(w http.ResponseWriter, r *http.Request) {
	if observability.PrometheusExporter == nil {
		apperrors.RespondWithError(w, r, errors.NewErrorEnvelope("SERVICE_UNAVAILABLE", "Metrics exporter not initialized"))
		return
	}

	target := exporterURL()
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target, nil)
	if err != nil {
		relayError(w, r, "INTERNAL_ERROR", "Unable to construct metrics request", target, err)
		return
	}
	if accept := r.Header.Get("Accept"); accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := metricsProxyClient.Do(req)
	if err != nil {
		relayError(w, r, "EXTERNAL_SERVICE_ERROR", "Prometheus exporter unavailable", target, err)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	for key, values := range resp.Header {
		if hopHeaders[http.CanonicalHeaderKey(key)] {
			continue
		}
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", prometheusTextType)
	}

	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil && observability.ServerLogger != nil {
		observability.ServerLogger.Warn("Failed to relay metrics scrape", zap.Error(err))
	}
}

func relayError(w http.ResponseWriter, r *http.Request, code, message, target string, cause error) {
	envelope, _ := errors.NewErrorEnvelope(code, message).WithContext(map[string]any{
		"metrics_url":    target,
		"original_error": cause.Error(),
	})
	apperrors.RespondWithError(w, r, envelope)
}
