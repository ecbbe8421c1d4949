// Package api exposes the search service over HTTP with gin.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vaultsearch/internal/domain"
	"vaultsearch/internal/service"
)

// Indexer is the corpus-mutating side of the service.
type Indexer interface {
	Status() domain.Status
	Refresh(ctx context.Context, changes []domain.Change) (service.Report, error)
}

// Searcher answers semantic queries.
type Searcher interface {
	Search(ctx context.Context, query string, topK int) ([]domain.Result, error)
}

// Handler holds the HTTP handlers.
type Handler struct {
	indexer  Indexer
	searcher Searcher
	size     func() int
	rebuild  func()
	log      *zap.Logger
}

// NewHandler wires the handlers. size reports the corpus size for /health;
// rebuild, when non-nil, starts an asynchronous full rebuild.
func NewHandler(indexer Indexer, searcher Searcher, size func() int, rebuild func(), log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{indexer: indexer, searcher: searcher, size: size, rebuild: rebuild, log: log.Named("api")}
}

// Refresh handles POST /refresh.
func (h *Handler) Refresh(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
		return
	}
	if len(req.Notes) == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "notes must not be empty"})
		return
	}
	changes := make([]domain.Change, len(req.Notes))
	for i, n := range req.Notes {
		changes[i] = n.change()
	}

	rep, err := h.indexer.Refresh(c.Request.Context(), changes)
	if err != nil {
		h.fail(c, err)
		return
	}
	resp := RefreshResponse{Status: "success", Upserted: rep.Upserted, Deleted: rep.Deleted, Errors: []EntryError{}}
	for _, e := range rep.Failed {
		resp.Errors = append(resp.Errors, EntryError{Index: e.Index, Path: e.Path, Error: e.Err.Error()})
	}
	code := http.StatusOK
	switch {
	case len(rep.Failed) == len(changes):
		resp.Status = "failed"
		code = http.StatusUnprocessableEntity
	case len(rep.Failed) > 0:
		resp.Status = "partial"
	}
	c.JSON(code, resp)
}

// Search handles POST /semantic_search.
func (h *Handler) Search(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
		return
	}
	topK := DefaultTopK
	if req.TopK != nil {
		topK = *req.TopK
	}
	res, err := h.searcher.Search(c.Request.Context(), req.Query, topK)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, SearchResponse{Query: req.Query, Results: ToSearchResults(res)})
}

// Health handles GET /health.
func (h *Handler) Health(c *gin.Context) {
	n := 0
	if h.size != nil {
		n = h.size()
	}
	c.JSON(http.StatusOK, HealthResponse{Status: string(h.indexer.Status()), Notes: n})
}

// Rebuild handles POST /rebuild.
func (h *Handler) Rebuild(c *gin.Context) {
	if h.rebuild == nil {
		c.JSON(http.StatusNotImplemented, ErrorResponse{Error: "rebuild is not configured"})
		return
	}
	h.rebuild()
	c.JSON(http.StatusAccepted, gin.H{"status": "rebuild started"})
}

func (h *Handler) fail(c *gin.Context, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		h.log.Error("request failed", zap.String("path", c.FullPath()), zap.Int("status", code), zap.Error(err))
	}
	c.JSON(code, ErrorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotReady):
		return http.StatusServiceUnavailable
	case domain.IsValidation(err):
		return http.StatusBadRequest
	case domain.IsProvider(err):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
