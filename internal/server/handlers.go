package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/pressagent/internal/cache"
	"github.com/mohammad-safakhou/pressagent/internal/memory"
	"github.com/mohammad-safakhou/pressagent/internal/pipeline"
	"github.com/mohammad-safakhou/pressagent/internal/profile"
	"github.com/mohammad-safakhou/pressagent/internal/rag"
	"github.com/mohammad-safakhou/pressagent/internal/store"
	"github.com/mohammad-safakhou/pressagent/provider"
)

// CommentsHandler exposes the generation pipeline over HTTP.
type CommentsHandler struct {
	Orch *pipeline.Orchestrator
}

func (h *CommentsHandler) Register(g *echo.Group, secret []byte) {
	g.Use(AuthMiddleware(secret))
	g.POST("", h.generate)
}

func (h *CommentsHandler) generate(c echo.Context) error {
	var req pipeline.Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	resp, err := h.Orch.Run(c.Request().Context(), req)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, resp)
}

// SessionsHandler manages short-term conversation buffers.
type SessionsHandler struct {
	Sessions *memory.SessionManager
}

func (h *SessionsHandler) Register(g *echo.Group, secret []byte) {
	g.Use(AuthMiddleware(secret))
	g.GET("/:id", h.history)
	g.DELETE("/:id", h.clear)
}

func (h *SessionsHandler) history(c echo.Context) error {
	buf, ok := h.Sessions.Peek(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"session_id":  c.Param("id"),
		"turns":       buf.Turns(),
		"tokens_used": buf.TokensUsed(),
	})
}

func (h *SessionsHandler) clear(c echo.Context) error {
	if !h.Sessions.Delete(c.Param("id")) {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	return c.NoContent(http.StatusNoContent)
}

// KnowledgeHandler seeds the retrieval stores.
type KnowledgeHandler struct {
	Store    *store.Store
	Examples *rag.ExamplesStore
	LLM      provider.Provider
}

type knowledgeRequest struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Tags    []string `json:"tags,omitempty"`
	// Store selects the target: "knowledge" (default) or "examples".
	Store string `json:"store,omitempty"`
}

func (h *KnowledgeHandler) Register(g *echo.Group, secret []byte) {
	g.Use(AuthMiddleware(secret))
	g.POST("", h.add)
}

func (h *KnowledgeHandler) add(c echo.Context) error {
	var req knowledgeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Content) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content is required")
	}

	switch req.Store {
	case "", rag.StoreKnowledge:
		vecs, err := h.LLM.CreateEmbedding(c.Request().Context(), []string{req.Content})
		if err != nil || len(vecs) == 0 {
			return echo.NewHTTPError(http.StatusBadGateway, "embedding failed")
		}
		id, err := h.Store.InsertKnowledge(c.Request().Context(), store.KnowledgeDocument{
			Title:   req.Title,
			Content: req.Content,
			Tags:    req.Tags,
			Vector:  vecs[0],
		})
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusCreated, map[string]string{"id": id, "store": rag.StoreKnowledge})
	case rag.StoreExamples:
		id := req.Title
		if id == "" {
			id = cache.Fingerprint("", map[string]string{"content": req.Content})[:12]
		}
		if err := h.Examples.Add(id, req.Content); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusCreated, map[string]string{"id": id, "store": rag.StoreExamples})
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "unknown store: "+req.Store)
	}
}

// OpsHandler exposes operational state: cache stats, session counts, row
// totals and cache invalidation.
type OpsHandler struct {
	Cache       cache.Cache
	CachePrefix string
	Sessions    *memory.SessionManager
	Store       *store.Store
}

func (h *OpsHandler) Register(g *echo.Group, secret []byte) {
	g.Use(AuthMiddleware(secret))
	g.GET("/stats", h.stats)
	g.POST("/cache/invalidate", h.invalidate)
}

func (h *OpsHandler) stats(c echo.Context) error {
	counts, err := h.Store.CountRows(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"cache":    h.Cache.Stats(),
		"sessions": h.Sessions.Count(),
		"storage":  counts,
		"time":     time.Now().UTC(),
	})
}

type invalidateRequest struct {
	// Prefix narrows invalidation below the configured cache namespace.
	Prefix string `json:"prefix,omitempty"`
}

func (h *OpsHandler) invalidate(c echo.Context) error {
	var req invalidateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	prefix := h.CachePrefix + req.Prefix
	removed, err := h.Cache.InvalidatePrefix(c.Request().Context(), prefix)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]int64{"removed": removed})
}

// ProfilesHandler lists the configured subjects.
type ProfilesHandler struct {
	Profiles *profile.Manager
}

func (h *ProfilesHandler) Register(g *echo.Group, secret []byte) {
	g.Use(AuthMiddleware(secret))
	g.GET("", h.list)
}

func (h *ProfilesHandler) list(c echo.Context) error {
	names, err := h.Profiles.List()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if names == nil {
		names = []string{}
	}
	return c.JSON(http.StatusOK, map[string][]string{"profiles": names})
}
