package pipeline

import (
	"log/slog"
	"strings"
	"time"

	"github.com/xiaot623/gogo/scenarios/internal/logging"
)

const (
	// EnvGogoMode is the environment variable name for mode selection.
	EnvGogoMode = "GOGO_MODE"
	// ModeMock indicates the simulated pipeline should be used.
	ModeMock = "MOCK"
)

// NewPipeline creates a pipeline based on the configured mode.
// If mode is MOCK or no URL is configured, returns a MockPipeline; otherwise
// returns a real Client.
func NewPipeline(mode, baseURL string, timeout time.Duration, logger *slog.Logger) Pipeline {
	logger = logging.OrDiscard(logger)
	if strings.EqualFold(mode, ModeMock) {
		logger.Info("GOGO_MODE=MOCK detected, using simulated detection pipeline")
		return NewMockPipeline()
	}
	if strings.TrimSpace(baseURL) == "" {
		logger.Info("no PIPELINE_URL configured, using simulated detection pipeline")
		return NewMockPipeline()
	}
	logger.Info("using detection pipeline", "url", baseURL, "timeout", timeout)
	return NewClient(baseURL, timeout)
}
