package webhook

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/zulandar/convoy/internal/logging"
	"github.com/zulandar/convoy/internal/models"
	"github.com/zulandar/convoy/internal/orchestrator"
	"github.com/zulandar/convoy/internal/store"
	"github.com/zulandar/convoy/internal/tracker"
	"go.uber.org/zap"
)

// registerRoutes sets up all routes on the Gin router.
func registerRoutes(router *gin.Engine, s *Server, opts Opts) {
	router.GET("/health", handleHealth())
	if opts.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	} else {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	api := router.Group("/")
	if opts.Secret != "" {
		api.Use(requireSecret(opts.Secret))
	}

	// Platform webhooks.
	api.POST("/webhooks/:account/content", s.handleContent)
	api.POST("/webhooks/:account/state", s.handleState)

	// Task API.
	api.POST("/tasks", s.handleSubmitTask)
	api.GET("/tasks/:account/:id", s.handleGetTask)
	api.GET("/tasks/:account/:id/progress", s.handleTaskProgress)
	api.POST("/tasks/:account/:id/cancel", s.handleCancelTask)
	api.POST("/tasks/:account/:id/complete", s.handleCompleteTask)

	// Conversation controls.
	api.POST("/conversations/:account/:id/pause", s.handlePause)
	api.POST("/conversations/:account/:id/resume", s.handleResume)
}

func handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// handleContent accepts agent message events. Discarded events are still a
// 200 so the platform does not redeliver them.
func (s *Server) handleContent(c *gin.Context) {
	var ev orchestrator.ContentEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid content event: " + err.Error()})
		return
	}
	out, err := s.orch.ProcessContentEvent(c.Request.Context(), c.Param("account"), ev)
	if err != nil {
		s.log.Error("content event failed", logging.Account(c.Param("account")),
			logging.Conversation(out.ConversationID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	resp := gin.H{"action": out.Action, "conversationId": out.ConversationID}
	if out.Reason != "" {
		resp["reason"] = out.Reason
	}
	if out.Action == orchestrator.ActionScheduled {
		resp["delayMs"] = out.Delay.Milliseconds()
		resp["agentTurns"] = out.AgentTurns
	}
	c.JSON(http.StatusOK, resp)
}

// handleState accepts conversation state change events.
func (s *Server) handleState(c *gin.Context) {
	var ev orchestrator.StateChangeEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid state event: " + err.Error()})
		return
	}
	if err := s.orch.HandleStateChange(c.Request.Context(), c.Param("account"), ev); err != nil {
		s.log.Error("state event failed", logging.Account(c.Param("account")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"changes": len(ev.Body.Changes)})
}

// submitRequest is the task submission body.
type submitRequest struct {
	AccountID                 string            `json:"accountId" binding:"required"`
	RequestID                 string            `json:"requestId" binding:"required"`
	MaxConversations          int               `json:"maxConversations"`
	ConcurrentConversations   int               `json:"concurrentConversations"`
	UseDelays                 bool              `json:"useDelays"`
	UseFakeNames              bool              `json:"useFakeNames"`
	MaxTurns                  int               `json:"maxTurns"`
	ConsumerMessageDelayRange models.DelayRange `json:"consumerMessageDelayRange"`
	SkillID                   string            `json:"skillId"`
	Scenario                  string            `json:"scenario"`
	Persona                   string            `json:"persona"`
}

func (r submitRequest) task() *models.Task {
	return &models.Task{
		ID:                        r.RequestID,
		AccountID:                 r.AccountID,
		MaxConversations:          r.MaxConversations,
		ConcurrentConversations:   r.ConcurrentConversations,
		UseDelays:                 r.UseDelays,
		UseFakeNames:              r.UseFakeNames,
		MaxTurns:                  r.MaxTurns,
		ConsumerMessageDelayRange: r.ConsumerMessageDelayRange,
		SkillID:                   r.SkillID,
		Scenario:                  r.Scenario,
		Persona:                   r.Persona,
	}
}

func (s *Server) handleSubmitTask(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task: " + err.Error()})
		return
	}
	task := req.task()
	ids, err := s.tracker.StartTask(c.Request.Context(), task)
	if err != nil {
		switch {
		case errors.Is(err, tracker.ErrInvalidTask):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, tracker.ErrNoConversation):
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusCreated, gin.H{"task": task, "conversationIds": ids})
}

func (s *Server) handleGetTask(c *gin.Context) {
	task, err := s.tracker.GetTask(c.Request.Context(), c.Param("account"), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) handleTaskProgress(c *gin.Context) {
	task, err := s.tracker.GetTask(c.Request.Context(), c.Param("account"), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	p, err := s.tracker.GetTaskProgress(c.Request.Context(), task)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": task.Status, "progress": p})
}

func (s *Server) handleCancelTask(c *gin.Context) {
	task, err := s.tracker.CancelTask(c.Request.Context(), c.Param("account"), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// handleCompleteTask is the analysis callback for a scored task.
func (s *Server) handleCompleteTask(c *gin.Context) {
	task, err := s.tracker.MarkCompleted(c.Request.Context(), c.Param("account"), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) handlePause(c *gin.Context) {
	if err := s.orch.Pause(c.Request.Context(), c.Param("account"), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversationId": c.Param("id"), "state": models.StatePaused})
}

func (s *Server) handleResume(c *gin.Context) {
	if err := s.orch.Resume(c.Request.Context(), c.Param("account"), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversationId": c.Param("id"), "state": models.StateActive})
}

// writeError maps domain errors to HTTP statuses.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, tracker.ErrTaskNotFound):
		status = http.StatusNotFound
	case errors.Is(err, tracker.ErrTaskFinished),
		errors.Is(err, tracker.ErrNotAnalysing),
		errors.Is(err, models.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, tracker.ErrInvalidTask):
		status = http.StatusBadRequest
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
