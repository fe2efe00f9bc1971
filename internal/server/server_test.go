package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daniel-caso-github/users-insights/internal/core"
	apperrors "github.com/daniel-caso-github/users-insights/internal/errors"
)

type stubRunner struct {
	insights core.AggregateInsights
	err      error
}

func (s stubRunner) Run(_ context.Context, subject core.Subject) (*core.RunReport, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &core.RunReport{Subject: subject, Insights: s.insights}, nil
}

func TestServerUsesStandardErrorHandlers(t *testing.T) {
	srv := New(Options{Host: "127.0.0.1"})

	req := httptest.NewRequest(http.MethodGet, "/does-not-exist", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}

	var body apperrors.HTTPErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}

	if body.Error.Code != "NOT_FOUND" {
		t.Fatalf("expected error code NOT_FOUND, got %s", body.Error.Code)
	}
}

func TestServerRoutesUserInsights(t *testing.T) {
	srv := New(Options{
		Host: "127.0.0.1",
		Insights: stubRunner{insights: core.AggregateInsights{
			"repos_with_more_prs": []any{},
		}},
	})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/user-insights/octocat", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "repos_with_more_prs")
}

func TestServerMapsSubjectNotFound(t *testing.T) {
	srv := New(Options{Host: "127.0.0.1", Insights: stubRunner{err: core.ErrSubjectNotFound}})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/user-insights/ghost", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServerWithoutInsightsRunner(t *testing.T) {
	srv := New(Options{Host: "127.0.0.1"})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/user-insights/octocat", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type panickingRunner struct{}

func (panickingRunner) Run(context.Context, core.Subject) (*core.RunReport, error) {
	panic("runner exploded")
}

func TestServerRecoversRunnerPanic(t *testing.T) {
	srv := New(Options{Host: "127.0.0.1", Insights: panickingRunner{}})

	req := httptest.NewRequest(http.MethodGet, "/user-insights/octocat", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))

	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "INTERNAL_ERROR", body.Error.Code)
	assert.Equal(t, "req-42", body.Error.RequestID)
	assert.Equal(t, "/user-insights/{username}", body.Error.Details["endpoint"])
}

func TestServerReplacesMalformedRequestID(t *testing.T) {
	srv := New(Options{Host: "127.0.0.1", Insights: stubRunner{insights: core.AggregateInsights{}}})

	req := httptest.NewRequest(http.MethodGet, "/user-insights/octocat", nil)
	req.Header.Set("X-Request-ID", "has spaces\tand tabs")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	id := rec.Header().Get("X-Request-ID")
	assert.NotEmpty(t, id)
	assert.NotEqual(t, "has spaces\tand tabs", id)
}
