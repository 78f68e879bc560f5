package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pawsos/backend/internal/http/middleware"
	"github.com/pawsos/backend/internal/models"
	"github.com/pawsos/backend/internal/service"
)

type RegisterOwnerRequest struct {
	ID    string `json:"id" validate:"required,max=128"`
	Name  string `json:"name" validate:"required,max=200"`
	Email string `json:"email" validate:"omitempty,email"`
	Phone string `json:"phone" validate:"max=40"`
}

type RegisterResponderRequest struct {
	ID            string `json:"id" validate:"required,max=128"`
	Name          string `json:"name" validate:"required,max=200"`
	Email         string `json:"email" validate:"omitempty,email"`
	Tier          string `json:"tier" validate:"required,oneof=student graduate qualified"`
	University    string `json:"university" validate:"max=200"`
	StudentID     string `json:"student_id" validate:"max=100"`
	CertificateNo string `json:"certificate_no" validate:"max=100"`
	LicenseNo     string `json:"license_no" validate:"max=100"`
}

type PushTokenRequest struct {
	Token string `json:"token" validate:"required,max=512"`
}

// @Summary Register or update an owner profile
// @Tags profiles
// @Accept json
// @Produce json
// @Param X-Admin-Key header string true "Admin key"
// @Param body body RegisterOwnerRequest true "Owner"
// @Success 201 {object} map[string]any
// @Router /api/owners [post]
func (h *Handler) RegisterOwner(c *gin.Context) {
	var req RegisterOwnerRequest
	if !h.bind(c, &req, false) {
		return
	}
	o, err := h.Engine.RegisterOwner(c.Request.Context(), service.RegisterOwnerInput{
		ID:    req.ID,
		Name:  req.Name,
		Email: req.Email,
		Phone: req.Phone,
	})
	if err != nil {
		h.writeEngineError(c, err)
		return
	}
	ok(c, http.StatusCreated, gin.H{"owner": o})
}

// @Summary Register or update a responder profile
// @Tags profiles
// @Accept json
// @Produce json
// @Param X-Admin-Key header string true "Admin key"
// @Param body body RegisterResponderRequest true "Responder"
// @Success 201 {object} map[string]any
// @Router /api/responders [post]
func (h *Handler) RegisterResponder(c *gin.Context) {
	var req RegisterResponderRequest
	if !h.bind(c, &req, false) {
		return
	}
	r, err := h.Engine.RegisterResponder(c.Request.Context(), service.RegisterResponderInput{
		ID:            req.ID,
		Name:          req.Name,
		Email:         req.Email,
		Tier:          models.Tier(req.Tier),
		University:    req.University,
		StudentID:     req.StudentID,
		CertificateNo: req.CertificateNo,
		LicenseNo:     req.LicenseNo,
	})
	if err != nil {
		h.writeEngineError(c, err)
		return
	}
	ok(c, http.StatusCreated, gin.H{"responder": r})
}

func (h *Handler) RegisterPushToken(c *gin.Context) {
	var req PushTokenRequest
	if !h.bind(c, &req, false) {
		return
	}
	if err := h.Engine.RegisterPushToken(c.Request.Context(), middleware.Caller(c), req.Token); err != nil {
		h.writeEngineError(c, err)
		return
	}
	ok(c, http.StatusOK, nil)
}

func (h *Handler) Me(c *gin.Context) {
	r, err := h.Engine.Responder(c.Request.Context(), middleware.Caller(c))
	if err != nil {
		h.writeEngineError(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"responder": r})
}

// @Summary Responder leaderboard
// @Tags profiles
// @Produce json
// @Param limit query int false "Max items (default 20, max 100)"
// @Success 200 {object} map[string]any
// @Router /api/leaderboard [get]
func (h *Handler) Leaderboard(c *gin.Context) {
	items, err := h.Engine.Leaderboard(c.Request.Context(), queryLimit(c))
	if err != nil {
		h.writeEngineError(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"items": items})
}
