package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/liboscore/shim/internal/framing"
	"github.com/liboscore/shim/internal/ipc"
	"github.com/liboscore/shim/internal/port"
)

// Handlers groups the admin API's route handlers, grounded on the
// teacher's internal/api/http.Handlers struct-of-dependencies style.
type Handlers struct {
	manager *ipc.Manager
	log     *zap.Logger
}

// Healthz reports process liveness and the helper loop's current state.
func (h *Handlers) Healthz(c *gin.Context) {
	respondJSON(c, http.StatusOK, gin.H{
		"success": true,
		"state":   h.manager.Helper.State().String(),
	})
}

// ListPorts returns a snapshot of every port currently in the registry.
func (h *Handlers) ListPorts(c *gin.Context) {
	respondJSON(c, http.StatusOK, gin.H{
		"success": true,
		"ports":   h.manager.Registry.Snapshot(),
	})
}

// GetPort returns every port registered under the :peer vmid.
func (h *Handlers) GetPort(c *gin.Context) {
	peerID, err := strconv.ParseUint(c.Param("peer"), 10, 64)
	if err != nil {
		respondJSON(c, http.StatusBadRequest, gin.H{"success": false, "error": "invalid peer id"})
		return
	}

	var matches []port.Info
	for _, info := range h.manager.Registry.Snapshot() {
		if info.PeerID == peerID {
			matches = append(matches, info)
		}
	}
	if len(matches) == 0 {
		respondJSON(c, http.StatusNotFound, gin.H{"success": false, "error": "no port for peer"})
		return
	}
	respondJSON(c, http.StatusOK, gin.H{"success": true, "ports": matches})
}

// broadcastRequest is the JSON body for POST /broadcast.
type broadcastRequest struct {
	Code    uint32 `json:"code" binding:"required"`
	Roles   uint32 `json:"roles"`
	Payload string `json:"payload"`
}

// Broadcast drives the broadcast router from outside the process, useful
// for integration tests and operational tooling.
func (h *Handlers) Broadcast(c *gin.Context) {
	var req broadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondJSON(c, http.StatusBadRequest, gin.H{"success": false, "error": "invalid request: " + err.Error()})
		return
	}

	err := h.manager.Broadcast.Broadcast(c.Request.Context(), framing.Code(req.Code), port.Role(req.Roles), nil, []byte(req.Payload))
	if err != nil {
		respondJSON(c, http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	respondJSON(c, http.StatusOK, gin.H{"success": true})
}
