// Package handlers implements the HTTP handlers over the memory engine.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/soundprediction/graphmem"
	"github.com/soundprediction/graphmem/pkg/server/dto"
	"github.com/soundprediction/graphmem/pkg/store"
	"github.com/soundprediction/graphmem/pkg/types"
)

// MemoryHandler handles ingest, search, snapshot, and clear requests.
type MemoryHandler struct {
	memory graphmem.Memory
	logger *slog.Logger
}

// NewMemoryHandler creates a memory handler.
func NewMemoryHandler(memory graphmem.Memory, logger *slog.Logger) *MemoryHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryHandler{memory: memory, logger: logger}
}

// Ingest handles POST /api/v1/ingest.
func (h *MemoryHandler) Ingest(c *gin.Context) {
	var req dto.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}
	layer := graphmem.ProcessingLayer(req.Layer)
	if layer == 0 {
		layer = graphmem.LayerEpisodic
	}

	if err := h.memory.Ingest(c.Request.Context(), req.Messages, layer); err != nil {
		if errors.Is(err, graphmem.ErrInvalidMessage) || errors.Is(err, graphmem.ErrUnknownLayer) {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_request", Message: err.Error()})
			return
		}
		h.logger.Error("ingest failed", "error", err, "request_id", requestID(c))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "ingest_failed", Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, dto.IngestResponse{
		Success:  true,
		Ingested: len(req.Messages),
		Layer:    int(layer),
	})
}

// Search handles POST /api/v1/search.
func (h *MemoryHandler) Search(c *gin.Context) {
	var req dto.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}

	results, err := h.memory.Search(c.Request.Context(), req.Query, req.Options())
	if err != nil {
		if errors.Is(err, graphmem.ErrEmptyQuery) {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_request", Message: err.Error()})
			return
		}
		h.logger.Error("search failed", "error", err, "request_id", requestID(c))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "search_failed", Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, dto.SearchResponse{Results: results, Count: len(results)})
}

// Snapshot handles GET /api/v1/snapshot. Query params: include_episodes,
// as_of (RFC 3339), types (comma-separated).
func (h *MemoryHandler) Snapshot(c *gin.Context) {
	filter := &store.Filter{}
	if v := c.Query("include_episodes"); v != "" {
		include, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_request", Message: "include_episodes must be a boolean"})
			return
		}
		filter.IncludeEpisodes = include
	} else {
		filter.IncludeEpisodes = true
	}
	if v := c.Query("as_of"); v != "" {
		asOf, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_request", Message: "as_of must be RFC 3339"})
			return
		}
		filter.AsOf = &asOf
	}
	for _, t := range c.QueryArray("types") {
		filter.NodeTypes = append(filter.NodeTypes, types.NodeType(t))
	}

	snapshot, err := h.memory.Snapshot(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("snapshot failed", "error", err, "request_id", requestID(c))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "snapshot_failed", Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, dto.SnapshotResponse{Nodes: snapshot.Nodes, Edges: snapshot.Edges})
}

// Clear handles DELETE /api/v1/clear. The body must confirm the wipe.
func (h *MemoryHandler) Clear(c *gin.Context) {
	var req dto.ClearRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}

	if err := h.memory.Clear(c.Request.Context()); err != nil {
		h.logger.Error("clear failed", "error", err, "request_id", requestID(c))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "clear_failed", Message: err.Error()})
		return
	}
	h.logger.Info("cleared graph via API", "request_id", requestID(c))
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// GetNode handles GET /api/v1/nodes/:id.
func (h *MemoryHandler) GetNode(c *gin.Context) {
	node, err := h.memory.GetNode(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, graphmem.ErrNodeNotFound) {
			c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "not_found", Message: err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "lookup_failed", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, node)
}

// GetEdge handles GET /api/v1/edges/:id.
func (h *MemoryHandler) GetEdge(c *gin.Context) {
	edge, err := h.memory.GetEdge(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, graphmem.ErrEdgeNotFound) {
			c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "not_found", Message: err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "lookup_failed", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, edge)
}

// Stats handles GET /api/v1/stats.
func (h *MemoryHandler) Stats(c *gin.Context) {
	stats, err := h.memory.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "stats_failed", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func requestID(c *gin.Context) string {
	return c.GetString("request_id")
}
