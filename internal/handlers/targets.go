package handlers

import (
	"net/http"
	"strconv"

	root "cadence_scheduler"
	"cadence_scheduler/internal/models"
	"cadence_scheduler/internal/service"

	"github.com/gin-gonic/gin"
)

// @Summary      List targets
// @Tags         targets
// @Produce      json
// @Param        in_season  query   bool  false  "Only targets observable this month"
// @Success      200  {object}  cadence_scheduler.TargetList
// @Failure      400  {object}  cadence_scheduler.ErrorResponse
// @Failure      401  {object}  cadence_scheduler.ErrorResponse
// @Failure      500  {object}  cadence_scheduler.ErrorResponse
// @Router       /api/v1/targets [get]
// @Security     BearerAuth
func (h *Handler) listTargets(c *gin.Context) {
	var filter service.TargetListFilter
	if qs := c.Query("in_season"); qs != "" {
		inSeason, err := strconv.ParseBool(qs)
		if err != nil {
			c.JSON(http.StatusBadRequest, root.ErrorResponse{Error: errInvalidInSeason})
			return
		}
		filter.InSeason = inSeason
	}
	targets, err := h.services.ListTargets(c.Request.Context(), filter)
	if err != nil {
		h.logAndJSONError(c, http.StatusInternalServerError, "failed to load targets", "target_list_failed", err)
		return
	}
	c.JSON(http.StatusOK, root.TargetList{Count: len(targets), Targets: targets})
}

// @Summary      Create target
// @Description  SIDEREAL targets need ra and dec, HOUR_ANGLE targets need hour_angle and dec.
// @Tags         targets
// @Accept       json
// @Produce      json
// @Param        body  body   models.Target  true  "Target"
// @Success      201   {object}  models.Target
// @Failure      400   {object}  cadence_scheduler.ErrorResponse
// @Failure      500   {object}  cadence_scheduler.ErrorResponse
// @Router       /api/v1/targets [post]
// @Security     BearerAuth
func (h *Handler) createTarget(c *gin.Context) {
	var req models.Target
	if ok := h.bindJSONOrBadRequest(c, &req); !ok {
		return
	}
	target, err := h.services.CreateTarget(c.Request.Context(), req)
	if err != nil {
		h.respondServiceError(c, "failed to save target", "target_create_failed", err, "name", req.Name)
		return
	}
	c.JSON(http.StatusCreated, target)
}
