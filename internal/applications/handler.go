package applications

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"jobtracker-backend/internal/analyses"
	"jobtracker-backend/internal/shared/server/middleware"
	"jobtracker-backend/internal/shared/server/respond"
)

// Handler wires HTTP handlers to the service.
type Handler struct {
	Svc      *Service
	Analyses *analyses.Service
	// CreateLimit, when set, guards application creation.
	CreateLimit gin.HandlerFunc
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service, analysesSvc *analyses.Service) *Handler {
	return &Handler{Svc: svc, Analyses: analysesSvc}
}

// RegisterRoutes attaches application routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	create := []gin.HandlerFunc{h.create}
	if h.CreateLimit != nil {
		create = append([]gin.HandlerFunc{h.CreateLimit}, create...)
	}
	rg.POST("/applications", create...)
	rg.GET("/applications", h.list)
	rg.GET("/applications/:id", h.get)
	rg.PUT("/applications/:id", h.update)
	rg.PATCH("/applications/:id/status", h.updateStatus)
	rg.DELETE("/applications/:id", h.delete)
	rg.GET("/applications/:id/analysis", h.analysis)
}

type createRequest struct {
	CompanyName    string `json:"company_name"`
	JobTitle       string `json:"job_title"`
	JobURL         string `json:"job_url"`
	JobDescription string `json:"job_description"`
	Location       string `json:"location"`
	SalaryRange    string `json:"salary_range"`
	DateApplied    string `json:"date_applied"`
	Status         string `json:"status"`
	Notes          string `json:"notes"`
}

func (h *Handler) create(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)

	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, respond.CodeValidation, "invalid request body", nil)
		return
	}

	in := CreateInput{
		CompanyName:    req.CompanyName,
		JobTitle:       req.JobTitle,
		JobURL:         req.JobURL,
		JobDescription: req.JobDescription,
		Location:       req.Location,
		SalaryRange:    req.SalaryRange,
		Status:         req.Status,
		Notes:          req.Notes,
	}
	if strings.TrimSpace(req.DateApplied) != "" {
		d, err := time.Parse(DateLayout, strings.TrimSpace(req.DateApplied))
		if err != nil {
			respond.Error(c, http.StatusBadRequest, respond.CodeValidation, "date_applied must be YYYY-MM-DD", nil)
			return
		}
		in.DateApplied = &d
	}

	app, err := h.Svc.Create(c.Request.Context(), userID, in)
	if err != nil {
		writeError(c, err, "failed to create application")
		return
	}
	c.Set(middleware.ApplicationIDKey, app.ID)
	respond.Created(c, app)
}

func (h *Handler) list(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)

	filter := ListFilter{Status: strings.TrimSpace(c.Query("status"))}
	for _, q := range []struct {
		name string
		dst  **time.Time
	}{{"date_from", &filter.DateFrom}, {"date_to", &filter.DateTo}} {
		raw := strings.TrimSpace(c.Query(q.name))
		if raw == "" {
			continue
		}
		d, err := time.Parse(DateLayout, raw)
		if err != nil {
			respond.Error(c, http.StatusBadRequest, respond.CodeValidation, q.name+" must be YYYY-MM-DD", nil)
			return
		}
		*q.dst = &d
	}

	apps, err := h.Svc.List(c.Request.Context(), userID, filter)
	if err != nil {
		writeError(c, err, "failed to list applications")
		return
	}
	respond.OK(c, apps)
}

func (h *Handler) get(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	id := c.Param("id")
	c.Set(middleware.ApplicationIDKey, id)

	app, err := h.Svc.Get(c.Request.Context(), userID, id)
	if err != nil {
		writeError(c, err, "failed to fetch application")
		return
	}
	respond.OK(c, app)
}

type updateRequest struct {
	CompanyName    *string `json:"company_name"`
	JobTitle       *string `json:"job_title"`
	JobURL         *string `json:"job_url"`
	JobDescription *string `json:"job_description"`
	Location       *string `json:"location"`
	SalaryRange    *string `json:"salary_range"`
	DateApplied    *string `json:"date_applied"`
	Status         *string `json:"status"`
	Notes          *string `json:"notes"`
}

func (h *Handler) update(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	id := c.Param("id")
	c.Set(middleware.ApplicationIDKey, id)

	var req updateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, respond.CodeValidation, "invalid request body", nil)
		return
	}

	in := UpdateInput{
		CompanyName:    req.CompanyName,
		JobTitle:       req.JobTitle,
		JobURL:         req.JobURL,
		JobDescription: req.JobDescription,
		Location:       req.Location,
		SalaryRange:    req.SalaryRange,
		Status:         req.Status,
		Notes:          req.Notes,
	}
	if req.DateApplied != nil {
		d, err := time.Parse(DateLayout, strings.TrimSpace(*req.DateApplied))
		if err != nil {
			respond.Error(c, http.StatusBadRequest, respond.CodeValidation, "date_applied must be YYYY-MM-DD", nil)
			return
		}
		in.DateApplied = &d
	}

	app, err := h.Svc.Update(c.Request.Context(), userID, id, in)
	if err != nil {
		writeError(c, err, "failed to update application")
		return
	}
	respond.OK(c, app)
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) updateStatus(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	id := c.Param("id")
	c.Set(middleware.ApplicationIDKey, id)

	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, respond.CodeValidation, "invalid request body", nil)
		return
	}

	app, err := h.Svc.UpdateStatus(c.Request.Context(), userID, id, req.Status)
	if err != nil {
		writeError(c, err, "failed to update application")
		return
	}
	respond.OK(c, app)
}

func (h *Handler) delete(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	id := c.Param("id")
	c.Set(middleware.ApplicationIDKey, id)

	if err := h.Svc.Delete(c.Request.Context(), userID, id); err != nil {
		writeError(c, err, "failed to delete application")
		return
	}
	respond.NoContent(c)
}

func (h *Handler) analysis(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	id := c.Param("id")
	c.Set(middleware.ApplicationIDKey, id)

	if _, err := h.Svc.Get(c.Request.Context(), userID, id); err != nil {
		writeError(c, err, "failed to fetch application")
		return
	}

	rec, err := h.Analyses.GetForApplication(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, analyses.ErrNotAvailable) {
			respond.Error(c, http.StatusNotFound, analyses.ErrorCodeNotAvailable, "analysis not available yet", nil)
			return
		}
		respond.Error(c, http.StatusInternalServerError, respond.CodeInternal, "failed to fetch analysis", nil)
		return
	}
	respond.OK(c, rec)
}

func writeError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, respond.CodeNotFound, "application not found", nil)
	case errors.Is(err, ErrInvalidInput):
		respond.Error(c, http.StatusBadRequest, respond.CodeValidation, err.Error(), nil)
	default:
		respond.Error(c, http.StatusInternalServerError, respond.CodeInternal, fallback, nil)
	}
}
