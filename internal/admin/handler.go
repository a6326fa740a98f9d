package admin

import (
	"github.com/gin-gonic/gin"

	"magick/internal/core/apperror"
	"magick/internal/core/evalctx"
	"magick/internal/core/flag"
	"magick/internal/core/targeting"
	"magick/internal/engine"
)

type handler struct {
	engine *engine.Engine
}

// flagRequest is the JSON body for registering a flag.
type flagRequest struct {
	Name         string                    `json:"name" binding:"required"`
	Type         string                    `json:"type" binding:"required"`
	Status       string                    `json:"status"`
	Value        any                       `json:"value"`
	DefaultValue any                       `json:"default_value"`
	Description  string                    `json:"description"`
	DisplayName  string                    `json:"display_name"`
	Group        string                    `json:"group"`
	Variants     []flag.Variant            `json:"variants"`
	Targeting    []targeting.AttributeRule `json:"targeting"`
	Dependencies []string                  `json:"dependencies"`
}

func (h *handler) register(c *gin.Context) {
	var req flagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperror.NewValidation(err.Error()))
		return
	}

	status := flag.StatusActive
	if req.Status != "" {
		status = flag.Status(req.Status)
	}

	f := &flag.Flag{
		Name:         req.Name,
		Type:         flag.Type(req.Type),
		Status:       status,
		RawValue:     req.Value,
		DefaultValue: req.DefaultValue,
		Description:  req.Description,
		DisplayName:  req.DisplayName,
		Group:        req.Group,
		Variants:     req.Variants,
		Targeting:    targeting.Map{Rules: req.Targeting},
		Dependencies: req.Dependencies,
	}

	if err := h.engine.Register(c.Request.Context(), f); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(201, f)
}

func (h *handler) get(c *gin.Context) {
	f, ok := h.engine.Get(c.Param("name"))
	if !ok {
		_ = c.Error(apperror.NewFeatureNotFound(c.Param("name")))
		return
	}
	c.JSON(200, f)
}

func (h *handler) list(c *gin.Context) {
	c.JSON(200, h.engine.List())
}

func (h *handler) enable(c *gin.Context) {
	if err := h.engine.Enable(c.Request.Context(), c.Param("name")); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(200, gin.H{"status": "enabled"})
}

func (h *handler) disable(c *gin.Context) {
	if err := h.engine.Disable(c.Request.Context(), c.Param("name")); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(200, gin.H{"status": "disabled"})
}

type valueRequest struct {
	Value any `json:"value"`
}

func (h *handler) setValue(c *gin.Context) {
	var req valueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperror.NewValidation(err.Error()))
		return
	}
	if err := h.engine.SetValue(c.Request.Context(), c.Param("name"), req.Value); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(200, gin.H{"status": "updated"})
}

type groupRequest struct {
	Group string `json:"group"`
}

func (h *handler) setGroup(c *gin.Context) {
	var req groupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperror.NewValidation(err.Error()))
		return
	}
	if err := h.engine.SetGroup(c.Request.Context(), c.Param("name"), req.Group); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(200, gin.H{"status": "updated"})
}

func (h *handler) enableForRole(c *gin.Context) {
	if err := h.engine.EnableForRole(c.Request.Context(), c.Param("name"), c.Param("role")); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(200, gin.H{"status": "enabled"})
}

func (h *handler) disableForRole(c *gin.Context) {
	if err := h.engine.DisableForRole(c.Request.Context(), c.Param("name"), c.Param("role")); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(200, gin.H{"status": "disabled"})
}

func (h *handler) enableForUser(c *gin.Context) {
	if err := h.engine.EnableForUser(c.Request.Context(), c.Param("name"), c.Param("user")); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(200, gin.H{"status": "enabled"})
}

func (h *handler) disableForUser(c *gin.Context) {
	if err := h.engine.DisableForUser(c.Request.Context(), c.Param("name"), c.Param("user")); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(200, gin.H{"status": "disabled"})
}

// targetingUpdateRequest is the admin façade's compound targeting diff-update
// body (spec §6.1): Roles/UserIDs replace their selection rules wholesale,
// PercentageUsers/PercentageRequests set or clear their percentage rule.
type targetingUpdateRequest struct {
	Roles              []string `json:"roles"`
	UserIDs            []string `json:"user_ids"`
	PercentageUsers    *float64 `json:"percentage_users"`
	PercentageRequests *float64 `json:"percentage_requests"`
}

func (h *handler) updateTargeting(c *gin.Context) {
	var req targetingUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperror.NewValidation(err.Error()))
		return
	}

	update := flag.TargetingUpdate{
		Roles:              req.Roles,
		UserIDs:            req.UserIDs,
		PercentageUsers:    req.PercentageUsers,
		PercentageRequests: req.PercentageRequests,
	}
	if err := h.engine.UpdateTargeting(c.Request.Context(), c.Param("name"), update); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(200, gin.H{"status": "updated"})
}

type bulkRequest struct {
	Names []string `json:"names" binding:"required"`
}

func (h *handler) bulkEnable(c *gin.Context) {
	var req bulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperror.NewValidation(err.Error()))
		return
	}
	errs := h.engine.BulkEnable(c.Request.Context(), req.Names)
	c.JSON(200, bulkResult(errs))
}

func (h *handler) bulkDisable(c *gin.Context) {
	var req bulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperror.NewValidation(err.Error()))
		return
	}
	errs := h.engine.BulkDisable(c.Request.Context(), req.Names)
	c.JSON(200, bulkResult(errs))
}

func bulkResult(errs map[string]error) gin.H {
	failures := make(map[string]string, len(errs))
	for name, err := range errs {
		failures[name] = err.Error()
	}
	return gin.H{"failures": failures}
}

type evaluateRequest struct {
	Context map[string]any `json:"context"`
}

func (h *handler) evaluate(c *gin.Context) {
	var req evaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperror.NewValidation(err.Error()))
		return
	}

	name := c.Param("name")
	ec := evalctx.FromMap(req.Context)

	value, err := h.engine.Value(c.Request.Context(), name, ec)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(200, gin.H{
		"flag":     name,
		"enabled":  h.engine.Enabled(c.Request.Context(), name, ec),
		"disabled": h.engine.Disabled(c.Request.Context(), name, ec),
		"value":    value,
	})
}

func (h *handler) reload(c *gin.Context) {
	if err := h.engine.Reload(c.Request.Context()); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(200, gin.H{"status": "reloaded"})
}

func (h *handler) reset(c *gin.Context) {
	h.engine.Reset()
	c.JSON(200, gin.H{"status": "reset"})
}
