package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/fedlearn/coordinator-engine/pkg/models"
)

// bearerToken pulls the client token from the Authorization header. Tokens
// also arrive in POST bodies; the header wins when both are present.
func bearerToken(c *gin.Context) string {
	auth := c.GetHeader("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func roundIDParam(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("round_id"))
	if err != nil || id <= 0 {
		fail(c, models.NewErr(models.CodeUnknownRound))
		return 0, false
	}
	return id, true
}

// handleRegister creates a client record and returns its bearer token.
// POST /api/v1/client/register { "client_name": "hospital-a" }
func (h *APIHandler) handleRegister(c *gin.Context) {
	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ClientName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. Expected: {client_name}"})
		return
	}

	clientID, token, err := h.coord.Register(req.ClientName)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"client_id": clientID,
		"token":     token,
		"status":    "registered",
	})
}

// handleGetTask assigns the caller onto the current round (idempotent until
// the client submits).
// GET /api/v1/task/:client_id with Authorization: Bearer <token>
func (h *APIHandler) handleGetTask(c *gin.Context) {
	clientID := c.Param("client_id")
	task, err := h.coord.AssignTask(clientID, bearerToken(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// handleSubmitUpdate runs the intake pipeline over one weight delta.
// POST /api/v1/update
func (h *APIHandler) handleSubmitUpdate(c *gin.Context) {
	var req models.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": string(models.CodeMalformedDelta)})
		return
	}
	if tok := bearerToken(c); tok != "" {
		req.Token = tok
	}

	if err := h.coord.SubmitUpdate(&req); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "accepted",
		"round_id": req.RoundID,
	})
}

// handleAggregate forces aggregation of a collecting round. The async
// controller calls the same path internally; this endpoint exists for
// operators and the synchronous mode.
// POST /api/v1/aggregate/:round_id
func (h *APIHandler) handleAggregate(c *gin.Context) {
	roundID, ok := roundIDParam(c)
	if !ok {
		return
	}
	result, err := h.coord.Aggregate(roundID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// handleRoundStatus returns the read-only view of a round.
func (h *APIHandler) handleRoundStatus(c *gin.Context) {
	roundID, ok := roundIDParam(c)
	if !ok {
		return
	}
	status, err := h.coord.Status(roundID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// handleGetModel returns a stored model version with its full payload.
func (h *APIHandler) handleGetModel(c *gin.Context) {
	version := c.Param("version")
	model, err := h.coord.Model(version)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, model)
}

// handleAllMetrics returns the global counters plus every per-round snapshot.
func (h *APIHandler) handleAllMetrics(c *gin.Context) {
	global, rounds := h.coord.AllMetrics()
	c.JSON(http.StatusOK, gin.H{
		"global": global,
		"rounds": rounds,
	})
}

func (h *APIHandler) handleRoundMetrics(c *gin.Context) {
	roundID, ok := roundIDParam(c)
	if !ok {
		return
	}
	snap, err := h.coord.MetricsFor(roundID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// handleAllReputations returns the leaderboard, best score first.
func (h *APIHandler) handleAllReputations(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"clients": h.coord.AllReputations()})
}

func (h *APIHandler) handleReputation(c *gin.Context) {
	view, err := h.coord.ReputationFor(c.Param("client_id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *APIHandler) handleAllIncentives(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"clients": h.coord.AllIncentives()})
}

func (h *APIHandler) handleIncentives(c *gin.Context) {
	clientID := c.Param("client_id")
	inc, err := h.coord.IncentivesFor(clientID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"incentive":  inc,
		"rate_limit": h.coord.RateLimitStats(clientID),
	})
}

// handleAsyncStats returns completion-policy bookkeeping for a round.
func (h *APIHandler) handleAsyncStats(c *gin.Context) {
	roundID, ok := roundIDParam(c)
	if !ok {
		return
	}
	stats, err := h.coord.AsyncStats(roundID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// handleHealth returns coordinator status for service discovery.
func (h *APIHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":             "operational",
		"engine":             "FedLearn Coordinator Engine v1.0",
		"current_round":      h.coord.CurrentRoundID(),
		"registered_clients": h.coord.RegisteredClients(),
		"capabilities": gin.H{
			"async_rounds":   true,
			"reputation":     true,
			"incentives":     true,
			"event_stream":   true,
			"round_archive":  true,
			"value_guarding": true,
		},
	})
}
