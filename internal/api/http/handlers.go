package http

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/domain/capability"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/domain/host"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/domain/router"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/domain/session"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/shared/types"
)

// ActionSource yields host actions forwarded by the intent router
type ActionSource interface {
	Drain() []router.HostAction
}

// Handlers serves the runtime session API
type Handlers struct {
	service *host.Service
	actions ActionSource
	logger  *zap.Logger
}

// NewHandlers creates handlers. actions may be nil when forwarded actions
// are consumed elsewhere.
func NewHandlers(service *host.Service, actions ActionSource, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{service: service, actions: actions, logger: logger}
}

// Register mounts every route on r
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/health", h.Health)

	sessions := r.Group("/sessions")
	sessions.POST("", h.LoadSession)
	sessions.GET("/:id", h.GetSession)
	sessions.DELETE("/:id", h.DisposeSession)
	sessions.POST("/:id/render", h.Render)
	sessions.POST("/:id/events", h.Event)
	sessions.POST("/:id/cards/:cardId", h.DefineCard)
	sessions.GET("/:id/timeline", h.Timeline)

	r.GET("/actions", h.Actions)

	cards := r.Group("/cards")
	cards.GET("", h.ListCards)
	cards.POST("", h.RegisterCard)
	cards.DELETE("/:id", h.UnregisterCard)
}

// Health reports runtime readiness
func (h *Handlers) Health(c *gin.Context) {
	report := h.service.Health(c.Request.Context())
	status, label := http.StatusOK, "healthy"
	if !report.Runtime.Ready {
		status, label = http.StatusServiceUnavailable, "unavailable"
	}
	c.JSON(status, gin.H{
		"status":   label,
		"runtime":  report.Runtime,
		"store":    report.Store,
		"registry": gin.H{"cards": report.Registry},
	})
}

// LoadSessionRequest is the body of POST /sessions
type LoadSessionRequest struct {
	StackID      string             `json:"stackId" binding:"required"`
	SessionID    string             `json:"sessionId"`
	Source       string             `json:"source" binding:"required"`
	Capabilities *capability.Policy `json:"capabilities"`
}

// LoadSession creates a session from an inline bundle
func (h *Handlers) LoadSession(c *gin.Context) {
	var req LoadSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	result, err := h.service.Load(c.Request.Context(), host.LoadRequest{
		StackID:      req.StackID,
		SessionID:    req.SessionID,
		Source:       req.Source,
		Capabilities: req.Capabilities,
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, gin.H{
		"session":   result.Meta,
		"injection": result.Injection,
	})
}

// GetSession returns the store record for a session
func (h *Handlers) GetSession(c *gin.Context) {
	sess, err := h.service.Session(c.Param("id"))
	if err != nil {
		notFound(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"session": sess})
}

// DisposeSession releases a session
func (h *Handlers) DisposeSession(c *gin.Context) {
	disposed := h.service.Dispose(c.Request.Context(), c.Param("id"))
	ok(c, http.StatusOK, gin.H{"disposed": disposed})
}

// RenderRequest is the body of POST /sessions/:id/render
type RenderRequest struct {
	CardID string `json:"cardId" binding:"required"`
}

// Render returns a card's UI tree
func (h *Handlers) Render(c *gin.Context) {
	var req RenderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	tree, err := h.service.Render(c.Request.Context(), c.Param("id"), req.CardID)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"tree": tree})
}

// EventRequest is the body of POST /sessions/:id/events
type EventRequest struct {
	CardID  string      `json:"cardId" binding:"required"`
	Handler string      `json:"handler" binding:"required"`
	Args    interface{} `json:"args"`
}

// Event runs a handler and routes the intents it emitted
func (h *Handlers) Event(c *gin.Context) {
	var req EventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	result, err := h.service.Event(c.Request.Context(), c.Param("id"), req.CardID, req.Handler, req.Args)
	if err != nil && result == nil {
		fail(c, err)
		return
	}
	if err != nil {
		// Intents were ingested but a host dispatch failed
		h.logger.Warn("Intent dispatch failed",
			zap.String("session_id", c.Param("id")),
			zap.Error(err))
		_ = c.Error(err)
	}
	ok(c, http.StatusOK, gin.H{
		"intents": result.Intents,
		"routed":  result.Routed,
	})
}

// Definition kinds accepted by POST /sessions/:id/cards/:cardId
const (
	DefineKindCard    = "card"
	DefineKindRender  = "render"
	DefineKindHandler = "handler"
)

// DefineCardRequest is the body of POST /sessions/:id/cards/:cardId
type DefineCardRequest struct {
	Kind    string `json:"kind"`
	Handler string `json:"handler"`
	Code    string `json:"code" binding:"required"`
}

// DefineCard hot-patches a card, its render function or one handler
func (h *Handlers) DefineCard(c *gin.Context) {
	var req DefineCardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	sessionID, cardID := c.Param("id"), c.Param("cardId")

	var (
		meta *types.SessionMeta
		err  error
	)
	switch req.Kind {
	case "", DefineKindCard:
		meta, err = h.service.DefineCard(ctx, sessionID, cardID, req.Code)
	case DefineKindRender:
		meta, err = h.service.DefineCardRender(ctx, sessionID, cardID, req.Code)
	case DefineKindHandler:
		if req.Handler == "" {
			badRequest(c, fmt.Errorf("handler is required for kind %q", DefineKindHandler))
			return
		}
		meta, err = h.service.DefineCardHandler(ctx, sessionID, cardID, req.Handler, req.Code)
	default:
		badRequest(c, fmt.Errorf("unknown definition kind %q", req.Kind))
		return
	}
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"session": meta})
}

// Timeline lists audit entries for a session.
// Query: cardId, outcome, limit.
func (h *Handlers) Timeline(c *gin.Context) {
	filter := session.TimelineFilter{
		SessionID: c.Param("id"),
		CardID:    c.Query("cardId"),
		Outcome:   types.Outcome(c.Query("outcome")),
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			badRequest(c, fmt.Errorf("limit must be a non-negative integer"))
			return
		}
		filter.Limit = limit
	}
	entries := h.service.Timeline(filter)
	if entries == nil {
		entries = []types.TimelineEntry{}
	}
	ok(c, http.StatusOK, gin.H{"entries": entries})
}

// Actions drains host actions forwarded since the last call
func (h *Handlers) Actions(c *gin.Context) {
	actions := []router.HostAction{}
	if h.actions != nil {
		actions = h.actions.Drain()
	}
	ok(c, http.StatusOK, gin.H{"actions": actions})
}

type cardView struct {
	ID           string    `json:"id"`
	Hash         string    `json:"hash"`
	Size         int       `json:"size"`
	RegisteredAt time.Time `json:"registeredAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// ListCards lists registered runtime cards without their source
func (h *Handlers) ListCards(c *gin.Context) {
	defs := h.service.Cards()
	cards := make([]cardView, 0, len(defs))
	for _, def := range defs {
		cards = append(cards, cardView{
			ID:           def.ID,
			Hash:         def.Hash,
			Size:         len(def.Code),
			RegisteredAt: def.RegisteredAt,
			UpdatedAt:    def.UpdatedAt,
		})
	}
	ok(c, http.StatusOK, gin.H{"cards": cards})
}

// RegisterCardRequest is the body of POST /cards
type RegisterCardRequest struct {
	ID   string `json:"id" binding:"required"`
	Code string `json:"code" binding:"required"`
}

// RegisterCard adds a runtime card; ready sessions receive it immediately
func (h *Handlers) RegisterCard(c *gin.Context) {
	var req RegisterCardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.service.RegisterCard(req.ID, req.Code); err != nil {
		badRequest(c, err)
		return
	}
	ok(c, http.StatusCreated, gin.H{"id": req.ID})
}

// UnregisterCard removes a runtime card from the registry
func (h *Handlers) UnregisterCard(c *gin.Context) {
	removed := h.service.UnregisterCard(c.Param("id"))
	if !removed {
		notFound(c, fmt.Errorf("card not found: %s", c.Param("id")))
		return
	}
	ok(c, http.StatusOK, gin.H{"removed": true})
}

var _ ActionSource = (*router.RecordingDispatcher)(nil)
