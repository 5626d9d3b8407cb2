package api

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rawblock/alignerd/internal/net"
	"github.com/rawblock/alignerd/internal/search"
	"github.com/rawblock/alignerd/internal/store"
	"github.com/rawblock/alignerd/pkg/models"
)

// APIHandler wires the HTTP surface to the search engine, the optional
// persistence store, and the websocket hub, mirroring the teacher's
// APIHandler (dbStore/wsHub fields, nil-store graceful degradation).
type APIHandler struct {
	runStore            *store.Store
	wsHub               *Hub
	defaultImproved     bool
	defaultWithHeuristic bool
}

// SetupRouter builds the gin engine. runStore may be nil (persistence
// disabled); wsHub must not be nil.
func SetupRouter(runStore *store.Store, wsHub *Hub, defaultImproved, defaultWithHeuristic bool) *gin.Engine {
	r := gin.Default()

	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	handler := &APIHandler{
		runStore:             runStore,
		wsHub:                wsHub,
		defaultImproved:      defaultImproved,
		defaultWithHeuristic: defaultWithHeuristic,
	}

	pub := r.Group("/api/v1")
	{
		pub.GET("/health", handler.handleHealth)
		pub.GET("/stream", wsHub.Subscribe)
	}

	auth := r.Group("/api/v1")
	auth.Use(AuthMiddleware())
	// Alignment runs are CPU-bound (LP relaxation per event); rate-limit
	// more tightly than a typical read endpoint.
	auth.Use(NewRateLimiter(20, 5).Middleware())
	{
		auth.POST("/align", handler.handleAlign)
		auth.GET("/runs/:id", handler.handleGetRun)
	}

	return r
}

// alignRequest is the wire form of search.Request (spec.md section 6.1),
// with the synchronous product net flattened into JSON-friendly slices.
type alignRequest struct {
	Places      []placeDTO      `json:"places"`
	Transitions []transitionDTO `json:"transitions"`
	Arcs        []arcDTO        `json:"arcs"`

	InitialMarking []string `json:"initialMarking"`
	FinalMarking   []string `json:"finalMarking"`
	CostFunction   map[string]int `json:"costFunction,omitempty"`

	Improved           *bool `json:"improved,omitempty"`
	WithHeuristic      *bool `json:"withHeuristic,omitempty"`
	ExtractAlignments  bool  `json:"extractAlignments"`
}

type placeDTO struct {
	ID        string `json:"id"`
	LogPlace  string `json:"logPlace"`
	ModelPlace string `json:"modelPlace"`
}

type transitionDTO struct {
	ID         string `json:"id"`
	LogLabel   string `json:"logLabel"`
	ModelLabel string `json:"modelLabel"`
	Cost       int    `json:"cost"`
}

type arcDTO struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// buildNet translates an alignRequest into a *net.SyncNet, mirroring
// SKIP-rule derivation (net.AddPlace / net.AddTransition).
func (req *alignRequest) buildNet() (*net.SyncNet, error) {
	n := net.NewSyncNet()
	for _, p := range req.Places {
		n.AddPlace(p.ID, p.LogPlace, p.ModelPlace)
	}
	for _, t := range req.Transitions {
		n.AddTransition(t.ID, t.LogLabel, t.ModelLabel, t.Cost)
	}
	for _, a := range req.Arcs {
		if err := n.AddArc(a.Source, a.Target); err != nil {
			return nil, err
		}
	}
	return n, nil
}

func (h *APIHandler) handleAlign(c *gin.Context) {
	var req alignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	syncNet, err := req.buildNet()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid net", "details": err.Error()})
		return
	}

	improved := h.defaultImproved
	if req.Improved != nil {
		improved = *req.Improved
	}
	withHeuristic := h.defaultWithHeuristic
	if req.WithHeuristic != nil {
		withHeuristic = *req.WithHeuristic
	}

	searchReq := search.Request{
		Net:               syncNet,
		InitialMarking:    net.NewMarking(req.InitialMarking...),
		FinalMarking:      net.NewMarking(req.FinalMarking...),
		CostFunction:      req.CostFunction,
		Improved:          improved,
		WithHeuristic:     withHeuristic,
		ExtractAlignments: req.ExtractAlignments,
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 60*time.Second)
	defer cancel()

	outcome, err := search.Run(ctx, searchReq)
	if err == search.ErrUnreachableFinal {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":       "final marking unreachable",
			"unreachable": true,
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "search failed", "details": err.Error()})
		return
	}
	outcome.RunID = uuid.New().String()

	traceID := c.GetHeader("X-Trace-Id")
	if traceID == "" {
		traceID = outcome.RunID
	}

	if h.runStore != nil {
		if err := h.runStore.SaveRun(c.Request.Context(), traceID, outcome); err != nil {
			c.JSON(http.StatusOK, gin.H{
				"outcome": outcome,
				"warning": "result computed but not persisted: " + err.Error(),
			})
			return
		}
	}

	h.wsHub.Broadcast(telemetryPayload(outcome))

	c.JSON(http.StatusOK, outcome)
}

func (h *APIHandler) handleGetRun(c *gin.Context) {
	if h.runStore == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "persistence not configured"})
		return
	}
	runID := c.Param("id")
	outcome, err := h.runStore.GetRun(c.Request.Context(), runID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, outcome)
}

func (h *APIHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "operational",
		"engine":      "alignerd",
		"dbConnected": h.runStore != nil,
		"improvedEnumerator": h.defaultImproved,
		"withHeuristic":      h.defaultWithHeuristic,
	})
}

// telemetryPayload adapts the teacher's BroadcastCoinJoinAlert idiom
// (internal/api/routes.go's alert-to-JSON-to-broadcast pipeline) to stream
// finished-run telemetry instead of CoinJoin detections.
func telemetryPayload(outcome *models.AlignmentOutcome) []byte {
	payload := gin.H{
		"type":      "alignment_complete",
		"runId":     outcome.RunID,
		"costs":     outcome.Costs,
		"deviations": outcome.Deviations,
		"telemetry": outcome.Telemetry,
	}
	bytes, err := json.Marshal(payload)
	if err != nil {
		return []byte(`{"type":"alignment_complete"}`)
	}
	return bytes
}
