package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	root "cadence_scheduler"
	"cadence_scheduler/internal/models"
	"cadence_scheduler/internal/service"

	"github.com/gin-gonic/gin"
)

// Common response/status constants to avoid magic strings and typos.
const (
	statusOK  = "ok"
	statusRan = "ran"

	errInvalidID       = "invalid cadence id"
	errListCadences    = "failed to load cadences"
	errLoadCadence     = "failed to load cadence"
	errSaveCadence     = "failed to save cadence"
	errRunCadence      = "failed to run cadence"
	errLoadHistory     = "failed to load observations"
	errInvalidActive   = "invalid 'active' filter; use true or false"
	errInvalidInSeason = "invalid 'in_season' filter; use true or false"
	errInvalidBodyPref = "invalid body: "
)

// Centralized error logging and response.
func (h *Handler) logAndJSONError(c *gin.Context, httpCode int, userMsg, logKey string, err error, kv ...interface{}) {
	if h.log != nil && err != nil {
		fields := append([]interface{}{"err", err}, kv...)
		h.log.Errorw(logKey, fields...)
	}
	c.JSON(httpCode, root.ErrorResponse{Error: userMsg})
}

// respondServiceError maps service and repository errors onto HTTP status codes.
// Client errors echo the service message; everything else gets userMsg.
func (h *Handler) respondServiceError(c *gin.Context, userMsg, logKey string, err error, kv ...interface{}) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, root.ErrorResponse{Error: err.Error()})
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, root.ErrorResponse{Error: err.Error()})
	case errors.Is(err, service.ErrCadenceInactive):
		c.JSON(http.StatusConflict, root.ErrorResponse{Error: err.Error()})
	default:
		h.logAndJSONError(c, http.StatusInternalServerError, userMsg, logKey, err, kv...)
	}
}

// cadenceID parses the :id path parameter, answering 400 when it is not a positive integer.
func (h *Handler) cadenceID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, root.ErrorResponse{Error: errInvalidID})
		return 0, false
	}
	return id, true
}

// CreateCadenceRequest is the payload of POST /api/v1/cadences.
type CreateCadenceRequest struct {
	// Strategy name, e.g. ImagerCadenceStrategy
	Strategy string `json:"cadence_strategy" binding:"required" example:"NRESCadenceStrategy"`
	// Name of the observation group the cadence submits under
	GroupName string `json:"observation_group_name" binding:"required" example:"NRES lsc calibrations"`
	// Strategy specific parameters
	Parameters models.CadenceParameters `json:"cadence_parameters"`
	// Defaults to true
	Active *bool `json:"active,omitempty"`
}

// UpdateCadenceRequest is the payload of PATCH /api/v1/cadences/{id}.
type UpdateCadenceRequest struct {
	Parameters models.CadenceParameters `json:"cadence_parameters,omitempty"`
	Active     *bool                    `json:"active,omitempty"`
}

// InitImagersRequest is the payload of POST /api/v1/cadences/imagers.
type InitImagersRequest struct {
	TargetID int64 `json:"target_id" binding:"required" example:"9"`
	// Hours between submissions; 0 uses the default
	Frequency int `json:"cadence_frequency,omitempty" example:"24"`
}

// @Summary      Health check
// @Tags         system
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /health [get]
func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": statusOK,
	})
}

// @Summary      List cadences
// @Tags         cadences
// @Produce      json
// @Param        strategy  query   string  false  "Strategy name"
// @Param        active    query   bool    false  "Only active or inactive cadences"
// @Success      200  {object}  cadence_scheduler.CadenceList
// @Failure      400  {object}  cadence_scheduler.ErrorResponse
// @Failure      401  {object}  cadence_scheduler.ErrorResponse
// @Failure      500  {object}  cadence_scheduler.ErrorResponse
// @Router       /api/v1/cadences [get]
// @Security     BearerAuth
func (h *Handler) listCadences(c *gin.Context) {
	filter := service.CadenceListFilter{Strategy: strings.TrimSpace(c.Query("strategy"))}
	if qs := c.Query("active"); qs != "" {
		active, err := strconv.ParseBool(qs)
		if err != nil {
			c.JSON(http.StatusBadRequest, root.ErrorResponse{Error: errInvalidActive})
			return
		}
		filter.Active = &active
	}
	cadences, err := h.services.Cadences.List(c.Request.Context(), filter)
	if err != nil {
		h.respondServiceError(c, errListCadences, "cadence_list_failed", err)
		return
	}
	c.JSON(http.StatusOK, root.CadenceList{Count: len(cadences), Cadences: cadences})
}

// @Summary      Create cadence
// @Tags         cadences
// @Accept       json
// @Produce      json
// @Param        body  body   CreateCadenceRequest  true  "Cadence definition"
// @Success      201   {object}  models.DynamicCadence
// @Failure      400   {object}  cadence_scheduler.ErrorResponse
// @Failure      401   {object}  cadence_scheduler.ErrorResponse
// @Failure      500   {object}  cadence_scheduler.ErrorResponse
// @Router       /api/v1/cadences [post]
// @Security     BearerAuth
func (h *Handler) createCadence(c *gin.Context) {
	var req CreateCadenceRequest
	if ok := h.bindJSONOrBadRequest(c, &req); !ok {
		return
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	dc, err := h.services.Cadences.Create(c.Request.Context(), service.CadenceInput{
		Strategy:   req.Strategy,
		GroupName:  req.GroupName,
		Parameters: req.Parameters,
		Active:     active,
	})
	if err != nil {
		h.respondServiceError(c, errSaveCadence, "cadence_create_failed", err, "strategy", req.Strategy)
		return
	}
	c.JSON(http.StatusCreated, dc)
}

// @Summary      Create imager cadences
// @Description  Creates one ImagerCadenceStrategy cadence for every imager with filters that has none yet.
// @Tags         cadences
// @Accept       json
// @Produce      json
// @Param        body  body   InitImagersRequest  true  "Target and frequency"
// @Success      201   {object}  cadence_scheduler.CadenceList
// @Failure      400   {object}  cadence_scheduler.ErrorResponse
// @Failure      401   {object}  cadence_scheduler.ErrorResponse
// @Failure      500   {object}  cadence_scheduler.ErrorResponse
// @Router       /api/v1/cadences/imagers [post]
// @Security     BearerAuth
func (h *Handler) initializeImagerCadences(c *gin.Context) {
	var req InitImagersRequest
	if ok := h.bindJSONOrBadRequest(c, &req); !ok {
		return
	}
	created, err := h.services.Cadences.InitializeImagerCadences(c.Request.Context(), req.TargetID, req.Frequency)
	if err != nil {
		h.respondServiceError(c, errSaveCadence, "imager_cadences_init_failed", err, "target_id", req.TargetID)
		return
	}
	c.JSON(http.StatusCreated, root.CadenceList{Count: len(created), Cadences: created})
}

// @Summary      Get cadence
// @Tags         cadences
// @Produce      json
// @Param        id   path      int  true  "Cadence id"
// @Success      200  {object}  models.DynamicCadence
// @Failure      400  {object}  cadence_scheduler.ErrorResponse
// @Failure      404  {object}  cadence_scheduler.ErrorResponse
// @Router       /api/v1/cadences/{id} [get]
// @Security     BearerAuth
func (h *Handler) getCadence(c *gin.Context) {
	id, ok := h.cadenceID(c)
	if !ok {
		return
	}
	dc, err := h.services.Cadences.Get(c.Request.Context(), id)
	if err != nil {
		h.respondServiceError(c, errLoadCadence, "cadence_get_failed", err, "cadence_id", id)
		return
	}
	c.JSON(http.StatusOK, dc)
}

// @Summary      Update cadence
// @Description  Replaces cadence_parameters and/or toggles active. Omitted fields are kept.
// @Tags         cadences
// @Accept       json
// @Produce      json
// @Param        id    path   int                   true  "Cadence id"
// @Param        body  body   UpdateCadenceRequest  true  "Changes"
// @Success      200   {object}  models.DynamicCadence
// @Failure      400   {object}  cadence_scheduler.ErrorResponse
// @Failure      404   {object}  cadence_scheduler.ErrorResponse
// @Router       /api/v1/cadences/{id} [patch]
// @Security     BearerAuth
func (h *Handler) updateCadence(c *gin.Context) {
	id, ok := h.cadenceID(c)
	if !ok {
		return
	}
	var req UpdateCadenceRequest
	if ok := h.bindJSONOrBadRequest(c, &req); !ok {
		return
	}
	dc, err := h.services.Cadences.Update(c.Request.Context(), id, service.CadenceUpdate{
		Parameters: req.Parameters,
		Active:     req.Active,
	})
	if err != nil {
		h.respondServiceError(c, errSaveCadence, "cadence_update_failed", err, "cadence_id", id)
		return
	}
	c.JSON(http.StatusOK, dc)
}

// @Summary      Run cadence now
// @Description  Ticks one active cadence outside the scheduler loop and records the event.
// @Tags         cadences
// @Produce      json
// @Param        id   path      int  true  "Cadence id"
// @Success      200  {object}  cadence_scheduler.RunResponse
// @Failure      404  {object}  cadence_scheduler.ErrorResponse
// @Failure      409  {object}  cadence_scheduler.ErrorResponse
// @Failure      500  {object}  cadence_scheduler.ErrorResponse
// @Router       /api/v1/cadences/{id}/run [post]
// @Security     BearerAuth
func (h *Handler) runCadence(c *gin.Context) {
	id, ok := h.cadenceID(c)
	if !ok {
		return
	}
	res, err := h.services.Scheduler.RunCadence(c.Request.Context(), id)
	if err != nil {
		h.respondServiceError(c, errRunCadence, "cadence_run_failed", err, "cadence_id", id)
		return
	}
	c.JSON(http.StatusOK, root.RunResponse{Status: statusRan, Result: res})
}

// @Summary      Observation history
// @Tags         cadences
// @Produce      json
// @Param        id   path      int  true  "Cadence id"
// @Success      200  {object}  cadence_scheduler.ObservationList
// @Failure      404  {object}  cadence_scheduler.ErrorResponse
// @Router       /api/v1/cadences/{id}/observations [get]
// @Security     BearerAuth
func (h *Handler) listObservations(c *gin.Context) {
	id, ok := h.cadenceID(c)
	if !ok {
		return
	}
	records, err := h.services.Observations.History(c.Request.Context(), id)
	if err != nil {
		h.respondServiceError(c, errLoadHistory, "observation_history_failed", err, "cadence_id", id)
		return
	}
	c.JSON(http.StatusOK, root.ObservationList{CadenceID: id, Count: len(records), Observations: records})
}
