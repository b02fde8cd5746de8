package resumes

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"jobtracker-backend/internal/shared/server/middleware"
	"jobtracker-backend/internal/shared/server/respond"
	"jobtracker-backend/internal/shared/util"
)

// Handler wires HTTP handlers to the service.
type Handler struct {
	Svc *Service
	// UploadLimit, when set, guards resume creation and upload.
	UploadLimit gin.HandlerFunc
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches resume routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/resumes", h.limited(h.create)...)
	rg.POST("/resumes/upload", h.limited(h.upload)...)
	rg.GET("/resumes", h.list)
	rg.GET("/resumes/active", h.active)
	rg.GET("/resumes/:id/file", h.original)
	rg.PUT("/resumes/:id/activate", h.activate)
	rg.DELETE("/resumes/:id", h.delete)
}

func (h *Handler) limited(fn gin.HandlerFunc) []gin.HandlerFunc {
	if h.UploadLimit == nil {
		return []gin.HandlerFunc{fn}
	}
	return []gin.HandlerFunc{h.UploadLimit, fn}
}

type createRequest struct {
	Content  string `json:"content"`
	FileName string `json:"file_name"`
}

func (h *Handler) create(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)

	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, respond.CodeValidation, "invalid request body", nil)
		return
	}

	res, err := h.Svc.Create(c.Request.Context(), userID, req.Content, req.FileName)
	if err != nil {
		writeError(c, err, "failed to create resume")
		return
	}
	c.Set(middleware.ResumeIDKey, res.ID)
	respond.Created(c, res)
}

func (h *Handler) upload(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	// Leave room for multipart framing around the file itself.
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize+1<<20)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(c, ErrTooLarge, "")
			return
		}
		respond.Error(c, http.StatusBadRequest, respond.CodeValidation, "file is required", nil)
		return
	}
	if fileHeader.Size > MaxUploadSize {
		writeError(c, ErrTooLarge, "")
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		respond.Error(c, http.StatusBadRequest, respond.CodeValidation, "unable to read file", nil)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, MaxUploadSize+1))
	if err != nil {
		respond.Error(c, http.StatusBadRequest, respond.CodeValidation, "unable to read file", nil)
		return
	}

	res, err := h.Svc.Upload(c.Request.Context(), userID, fileHeader.Filename, fileHeader.Header.Get("Content-Type"), data)
	if err != nil {
		writeError(c, err, "failed to upload resume")
		return
	}
	c.Set(middleware.ResumeIDKey, res.ID)
	respond.Created(c, res)
}

func (h *Handler) list(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)

	items, err := h.Svc.List(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err, "failed to list resumes")
		return
	}
	resp := make([]gin.H, 0, len(items))
	for _, res := range items {
		resp = append(resp, gin.H{
			"id":          res.ID,
			"file_name":   res.FileName,
			"is_active":   res.IsActive,
			"content_len": len(res.Content),
			"created_at":  res.CreatedAt,
			"updated_at":  res.UpdatedAt,
		})
	}
	respond.OK(c, resp)
}

func (h *Handler) active(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)

	res, err := h.Svc.Active(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err, "failed to fetch resume")
		return
	}
	c.Set(middleware.ResumeIDKey, res.ID)
	respond.OK(c, res)
}

func (h *Handler) original(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	id := c.Param("id")
	c.Set(middleware.ResumeIDKey, id)

	res, obj, err := h.Svc.Original(c.Request.Context(), userID, id)
	if err != nil {
		writeError(c, err, "failed to fetch resume file")
		return
	}
	defer obj.Body.Close()

	name := util.SafeFileName(res.FileName, "resume")
	c.DataFromReader(http.StatusOK, obj.Size, obj.ContentType, obj.Body, map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", name),
	})
}

func (h *Handler) activate(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	id := c.Param("id")
	c.Set(middleware.ResumeIDKey, id)

	res, err := h.Svc.Activate(c.Request.Context(), userID, id)
	if err != nil {
		writeError(c, err, "failed to activate resume")
		return
	}
	respond.OK(c, res)
}

func (h *Handler) delete(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	id := c.Param("id")
	c.Set(middleware.ResumeIDKey, id)

	if err := h.Svc.Delete(c.Request.Context(), userID, id); err != nil {
		writeError(c, err, "failed to delete resume")
		return
	}
	respond.NoContent(c)
}

func writeError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, respond.CodeNotFound, "resume not found", nil)
	case errors.Is(err, ErrNoOriginal):
		respond.Error(c, http.StatusNotFound, "file_not_available", err.Error(), nil)
	case errors.Is(err, ErrTooLarge):
		respond.Error(c, http.StatusRequestEntityTooLarge, "file_too_large", err.Error(), nil)
	case errors.Is(err, ErrInvalidInput):
		respond.Error(c, http.StatusBadRequest, respond.CodeValidation, err.Error(), nil)
	default:
		respond.Error(c, http.StatusInternalServerError, respond.CodeInternal, fallback, nil)
	}
}
