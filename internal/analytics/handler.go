package analytics

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/wellbeing-clinic/booking/internal/auth"
	"github.com/wellbeing-clinic/booking/pkg/response"
)

// Summarizer is implemented by Repository.
type Summarizer interface {
	Summary(ctx context.Context, f Filter) (*Summary, error)
}

// Handler handles GET /api/admin/summary.
type Handler struct {
	repo   Summarizer
	logger *zap.Logger
}

// NewHandler creates an analytics handler.
func NewHandler(repo Summarizer, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, logger: logger}
}

// Summary handles GET /api/admin/summary?from=&to=&counselorId=. Counselors always get their own figures.
func (h *Handler) Summary(c *gin.Context) {
	f := Filter{
		CounselorID: c.Query("counselorId"),
		From:        c.Query("from"),
		To:          c.Query("to"),
	}
	for _, d := range []string{f.From, f.To} {
		if d == "" {
			continue
		}
		if _, err := time.Parse("2006-01-02", d); err != nil {
			response.BadRequest(c, "from and to must be dates in yyyy-MM-dd format")
			return
		}
	}
	if f.From != "" && f.To != "" && f.From > f.To {
		response.BadRequest(c, "from must not be after to")
		return
	}
	if scope := auth.CounselorScope(c); scope != "" {
		f.CounselorID = scope
	}

	s, err := h.repo.Summary(c.Request.Context(), f)
	if err != nil {
		h.logger.Error("load summary failed", zap.Error(err))
		response.Internal(c, "failed to load summary")
		return
	}
	response.OK(c, s)
}
