package integration

import (
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daniel-caso-github/users-insights/internal/config"
	"github.com/daniel-caso-github/users-insights/internal/observability"
	"github.com/daniel-caso-github/users-insights/internal/server"
	"github.com/daniel-caso-github/users-insights/internal/server/handlers"
)

// isPermissionError reports sandbox refusals to open loopback sockets.
func isPermissionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrPermission) || errors.Is(err, syscall.EACCES) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "permission denied") || strings.Contains(msg, "not permitted")
}

// startMetrics starts the exporter under the "test" namespace and stops it
// when the test ends.
func startMetrics(t *testing.T) {
	t.Helper()
	if err := observability.InitMetrics("test", 0); err != nil {
		if isPermissionError(err) {
			t.Skipf("skipping metrics tests due to sandbox permissions: %v", err)
		}
		require.NoError(t, err)
	}
	t.Cleanup(func() { _ = observability.StopMetrics() })
}

// serveOnLoopback exposes srv on an IPv4 loopback listener.
func serveOnLoopback(t *testing.T, srv *server.Server) (string, *http.Client) {
	t.Helper()
	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		if isPermissionError(err) {
			t.Skipf("skipping loopback server: %v", err)
		}
		require.NoError(t, err)
	}

	ts := &httptest.Server{Listener: listener, Config: &http.Server{Handler: srv.Handler()}}
	ts.Start()
	t.Cleanup(ts.Close)
	return ts.URL, ts.Client()
}

func scrape(t *testing.T, client *http.Client, baseURL string) (*http.Response, string) {
	t.Helper()
	resp, err := client.Get(baseURL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, err)
	return resp, string(body)
}

func TestMetricsEndpoint_InsightsTraffic(t *testing.T) {
	observability.InitCLILogger("test", false)
	observability.InitServerLogger("test", config.LoggingConfig{Level: "warn"})
	startMetrics(t)
	handlers.InitHealthManager("test")

	baseURL, client := serveOnLoopback(t, newInsightsServer(t, fakeGitHub(t).URL))

	paths := []string{"/user-insights/alice", "/user-insights/ghost", "/user-insights/alice?outcomes=true", "/health/live"}
	const requests = 24

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		statuses = map[string]int{}
	)
	started := time.Now()
	for i := 0; i < requests; i++ {
		path := paths[i%len(paths)]
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := client.Get(baseURL + path)
			if err != nil {
				return
			}
			_ = resp.Body.Close()
			mu.Lock()
			statuses[path] = resp.StatusCode
			mu.Unlock()
		}()
	}
	wg.Wait()
	elapsed := time.Since(started)

	assert.Equal(t, http.StatusOK, statuses["/user-insights/alice"])
	assert.Equal(t, http.StatusNotFound, statuses["/user-insights/ghost"])

	resp, body := scrape(t, client, baseURL)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	for _, name := range []string{
		"test_http_requests_total",
		"test_http_request_duration_ms",
		"test_insights_runs_total",
		"test_insights_unit_outcomes_total",
		"test_upstream_requests_total",
	} {
		assert.Contains(t, body, name)
	}
	assert.Contains(t, body, "/user-insights/{username}", "requests are labelled by route pattern")
	assert.NotContains(t, body, "/user-insights/alice", "usernames never become label values")
	assert.NotContains(t, body, "/user-insights/ghost")
	assert.Less(t, elapsed, 10*time.Second)
	t.Logf("%d insights requests in %v", requests, elapsed)
}

func TestMetricsEndpoint_PrometheusFormat(t *testing.T) {
	observability.InitCLILogger("test", false)
	observability.InitServerLogger("test", config.LoggingConfig{Level: "warn"})
	startMetrics(t)
	handlers.InitHealthManager("test")

	baseURL, client := serveOnLoopback(t, newInsightsServer(t, fakeGitHub(t).URL))

	resp, err := client.Get(baseURL + "/user-insights/alice")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := scrape(t, client, baseURL)
	contentType := resp.Header.Get("Content-Type")
	assert.True(t, strings.HasPrefix(contentType, "text/plain; version=0.0.4"), "content type %q", contentType)

	samples := 0
	labelled := false
	for _, line := range strings.Split(strings.TrimSpace(body), "\n") {
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		samples++
		if strings.Contains(line, "{") && len(strings.Fields(line)) >= 2 {
			labelled = true
		}
	}
	assert.Greater(t, samples, 0)
	assert.True(t, labelled, "expected labelled sample lines")
}

func TestMetricsEndpoint_WithTelemetryDisabled(t *testing.T) {
	observability.InitCLILogger("test", false)
	observability.InitServerLogger("test", config.LoggingConfig{Level: "warn"})
	require.NoError(t, observability.StopMetrics())
	t.Setenv(config.EnvPrefix+"METRICS_ENABLED", "false")
	handlers.InitHealthManager("test")

	baseURL, client := serveOnLoopback(t, newInsightsServer(t, fakeGitHub(t).URL))

	resp, err := client.Get(baseURL + "/user-insights/alice")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode, "insights keep working without telemetry")

	resp, _ = scrape(t, client, baseURL)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
