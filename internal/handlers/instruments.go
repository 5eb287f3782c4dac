package handlers

import (
	"net/http"
	"strings"

	root "cadence_scheduler"

	"github.com/gin-gonic/gin"
)

// @Summary      List instruments
// @Tags         instruments
// @Produce      json
// @Success      200  {object}  cadence_scheduler.InstrumentList
// @Failure      401  {object}  cadence_scheduler.ErrorResponse
// @Failure      500  {object}  cadence_scheduler.ErrorResponse
// @Router       /api/v1/instruments [get]
// @Security     BearerAuth
func (h *Handler) listInstruments(c *gin.Context) {
	instruments, err := h.services.ListInstruments(c.Request.Context())
	if err != nil {
		h.logAndJSONError(c, http.StatusInternalServerError, "failed to load instruments", "instrument_list_failed", err)
		return
	}
	c.JSON(http.StatusOK, root.InstrumentList{Count: len(instruments), Instruments: instruments})
}

// @Summary      Sync instruments from ConfigDB
// @Description  Forces a ConfigDB refresh and upserts every schedulable non-spectrograph instrument.
// @Tags         instruments
// @Produce      json
// @Success      200  {object}  service.SyncReport
// @Failure      401  {object}  cadence_scheduler.ErrorResponse
// @Failure      502  {object}  cadence_scheduler.ErrorResponse
// @Router       /api/v1/instruments/sync [post]
// @Security     BearerAuth
func (h *Handler) syncInstruments(c *gin.Context) {
	report, err := h.services.Sync(c.Request.Context())
	if err != nil {
		h.logAndJSONError(c, http.StatusBadGateway, "instrument sync failed", "instrument_sync_failed", err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// @Summary      Calibration freshness
// @Description  Age in days of the latest successful calibration of every filter and filter set. A null age means never calibrated.
// @Tags         instruments
// @Produce      json
// @Param        code  path      string  true  "Instrument code"  example(fa15)
// @Success      200   {object}  service.InstrumentStatus
// @Failure      404   {object}  cadence_scheduler.ErrorResponse
// @Failure      500   {object}  cadence_scheduler.ErrorResponse
// @Router       /api/v1/instruments/{code}/status [get]
// @Security     BearerAuth
func (h *Handler) instrumentStatus(c *gin.Context) {
	code := strings.TrimSpace(c.Param("code"))
	st, err := h.services.FilterStatus(c.Request.Context(), code)
	if err != nil {
		h.respondServiceError(c, "failed to load instrument status", "instrument_status_failed", err, "instrument", code)
		return
	}
	c.JSON(http.StatusOK, st)
}
