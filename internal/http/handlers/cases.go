package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pawsos/backend/internal/http/middleware"
	"github.com/pawsos/backend/internal/models"
	"github.com/pawsos/backend/internal/service"
)

type LocationRequest struct {
	Lat *float64 `json:"lat" validate:"required,gte=-90,lte=90"`
	Lng *float64 `json:"lng" validate:"required,gte=-180,lte=180"`
}

type CreateCaseRequest struct {
	Symptoms string           `json:"symptoms" validate:"required,max=1000"`
	Severity string           `json:"severity" validate:"required,oneof=low mid high"`
	Location *LocationRequest `json:"location"`
}

type InstructionsRequest struct {
	Text string `json:"text" validate:"required,max=500"`
}

type ResolveRequest struct {
	FinalAdvice string `json:"final_advice" validate:"max=500"`
}

// @Summary Raise an SOS case
// @Tags cases
// @Accept json
// @Produce json
// @Param X-User-Id header string true "Owner id"
// @Param body body CreateCaseRequest true "Case"
// @Success 201 {object} map[string]any
// @Failure 400 {object} map[string]any
// @Router /api/cases [post]
func (h *Handler) CreateCase(c *gin.Context) {
	var req CreateCaseRequest
	if !h.bind(c, &req, false) {
		return
	}
	in := service.CreateCaseInput{
		OwnerID:  middleware.Caller(c),
		Symptoms: req.Symptoms,
		Severity: models.Severity(req.Severity),
	}
	if req.Location != nil {
		in.Location = &models.Location{Lat: *req.Location.Lat, Lng: *req.Location.Lng}
	}
	cs, err := h.Engine.CreateCase(c.Request.Context(), in)
	if err != nil {
		h.writeEngineError(c, err)
		return
	}
	ok(c, http.StatusCreated, gin.H{"case": cs})
}

// @Summary Get a case
// @Tags cases
// @Produce json
// @Param id path string true "Case ID"
// @Success 200 {object} map[string]any
// @Router /api/cases/{id} [get]
func (h *Handler) GetCase(c *gin.Context) {
	cs, err := h.Engine.CaseFor(c.Request.Context(), c.Param("id"), middleware.Caller(c))
	if err != nil {
		h.writeEngineError(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"case": cs})
}

// @Summary Accept a pending case
// @Tags transitions
// @Produce json
// @Param id path string true "Case ID"
// @Success 200 {object} map[string]any
// @Failure 409 {object} map[string]any
// @Router /api/cases/{id}/accept [post]
func (h *Handler) Accept(c *gin.Context) {
	h.transition(c, h.Engine.Accept)
}

func (h *Handler) MarkOnWay(c *gin.Context) {
	h.transition(c, h.Engine.MarkOnWay)
}

func (h *Handler) TakeOver(c *gin.Context) {
	h.transition(c, h.Engine.TakeOver)
}

func (h *Handler) UpdateInstructions(c *gin.Context) {
	var req InstructionsRequest
	if !h.bind(c, &req, false) {
		return
	}
	cs, err := h.Engine.UpdateInstructions(c.Request.Context(), c.Param("id"), middleware.Caller(c), req.Text)
	if err != nil {
		h.writeEngineError(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"case": cs})
}

func (h *Handler) Escalate(c *gin.Context) {
	res, err := h.Engine.Escalate(c.Request.Context(), c.Param("id"), middleware.Caller(c))
	if err != nil {
		h.writeEngineError(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"case": res.Case, "points_earned": res.PointsEarned})
}

// @Summary Resolve a case
// @Description Resolving an already resolved case again succeeds with already_resolved=true and no points.
// @Tags transitions
// @Accept json
// @Produce json
// @Param id path string true "Case ID"
// @Param body body ResolveRequest false "Final advice"
// @Success 200 {object} map[string]any
// @Router /api/cases/{id}/resolve [post]
func (h *Handler) Resolve(c *gin.Context) {
	var req ResolveRequest
	if !h.bind(c, &req, true) {
		return
	}
	res, err := h.Engine.Resolve(c.Request.Context(), c.Param("id"), middleware.Caller(c), req.FinalAdvice)
	if err != nil {
		h.writeEngineError(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{
		"case":             res.Case,
		"points_earned":    res.PointsEarned,
		"already_resolved": res.AlreadyResolved,
	})
}

func (h *Handler) UpdateLocation(c *gin.Context) {
	var req LocationRequest
	if !h.bind(c, &req, false) {
		return
	}
	res, err := h.Engine.UpdateLiveLocation(c.Request.Context(), c.Param("id"), middleware.Caller(c), *req.Lat, *req.Lng)
	if err != nil {
		h.writeEngineError(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"case": res.Case, "distance_km": res.DistanceKm})
}

type caseOp func(ctx context.Context, caseID, userID string) (models.Case, error)

func (h *Handler) transition(c *gin.Context, op caseOp) {
	cs, err := op(c.Request.Context(), c.Param("id"), middleware.Caller(c))
	if err != nil {
		h.writeEngineError(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"case": cs})
}
