package http

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/scenarios/internal/adapter/pipeline"
	"github.com/xiaot623/gogo/scenarios/internal/catalog"
	"github.com/xiaot623/gogo/scenarios/internal/config"
	"github.com/xiaot623/gogo/scenarios/internal/metrics"
	"github.com/xiaot623/gogo/scenarios/internal/playback"
	"github.com/xiaot623/gogo/scenarios/internal/policy"
	"github.com/xiaot623/gogo/scenarios/internal/registry"
	"github.com/xiaot623/gogo/scenarios/internal/scoring"
	"github.com/xiaot623/gogo/scenarios/internal/service"
	"github.com/xiaot623/gogo/scenarios/internal/stream"
)

func TestServerExposesMetricsAndHealth(t *testing.T) {
	cfg := config.Default()
	cat, err := catalog.Builtin()
	require.NoError(t, err)
	verdicts, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	require.NoError(t, err)

	m := metrics.New()
	bc := stream.NewBroadcaster(stream.WithObserver(m))
	p := &pipeline.MockPipeline{}
	engine := playback.NewEngine(playback.Options{Speed: cfg.PlaybackSpeed}, p, bc, scoring.New(cfg.ScoringTolerance), verdicts, nil, m, nil)
	svc := service.New(cat, registry.New(), bc, engine, nil, p, m, cfg, nil)

	srv := httptest.NewServer(NewServer(svc, m))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "scenarios_runs_active")
	assert.Contains(t, string(body), "go_goroutines")

	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/scenarios", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
