package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/scenarios/internal/domain"
)

// StartRun accepts a new run of a catalog scenario.
// POST /scenarios/run
func (h *Handler) StartRun(c echo.Context) error {
	var req domain.StartRunRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, domain.Validationf("invalid request body"))
	}

	resp, err := h.service.StartRun(c.Request().Context(), req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, resp)
}

// GetRun returns a snapshot of one run.
// GET /scenarios/run/:run_id
func (h *Handler) GetRun(c echo.Context) error {
	run, err := h.service.GetRun(c.Request().Context(), c.Param("run_id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, run)
}

// RateRun stores a human rating on a completed run.
// POST /scenarios/run/:run_id/rate
func (h *Handler) RateRun(c echo.Context) error {
	var req domain.RateRunRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, domain.Validationf("invalid request body"))
	}

	resp, err := h.service.RateRun(c.Request().Context(), c.Param("run_id"), req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// ListRuns lists the runs currently held in the registry.
// GET /scenarios/runs
func (h *Handler) ListRuns(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"runs": h.service.ListRuns(c.Request().Context()),
	})
}

// Cleanup removes every terminal run from the registry.
// DELETE /scenarios/runs/cleanup
func (h *Handler) Cleanup(c echo.Context) error {
	return c.JSON(http.StatusOK, h.service.Cleanup(c.Request().Context()))
}

// Export returns historical run summaries, newest first.
// GET /scenarios/export?scenario=
func (h *Handler) Export(c echo.Context) error {
	runs, err := h.service.Export(c.Request().Context(), c.QueryParam("scenario"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, runs)
}

// ListScenarios lists the scenario catalog.
// GET /scenarios
func (h *Handler) ListScenarios(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"scenarios": h.service.ListScenarios(c.Request().Context()),
	})
}

// GetScenario returns one scenario definition.
// GET /scenarios/:name
func (h *Handler) GetScenario(c echo.Context) error {
	sc, err := h.service.GetScenario(c.Request().Context(), c.Param("name"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, sc)
}
