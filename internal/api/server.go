// Package api exposes the engine's control surface over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/dexarb/dexarb-go/internal/models"
	"github.com/dexarb/dexarb-go/internal/risk"
)

// EngineControl is the slice of the engine the control surface needs.
type EngineControl interface {
	Running() bool
	Stop(reason string)
	RiskStatus() risk.Status
}

// OpportunityReader serves the recent-opportunity listing, backed by the
// journal.
type OpportunityReader interface {
	RecentOpportunities(ctx context.Context, limit int) ([]models.Opportunity, error)
}

// Server is the HTTP control surface: health, status, the opportunity
// journal and the emergency stop.
type Server struct {
	engine  EngineControl
	journal OpportunityReader
	logger  *logrus.Logger
	http    *http.Server
}

// NewServer builds the server on the given port. journal may be nil when
// no database is configured.
func NewServer(port int, engine EngineControl, journal OpportunityReader, logger *logrus.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		engine:  engine,
		journal: journal,
		logger:  logger,
		http: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      router,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}

	router.GET("/health", s.health)
	router.GET("/status", s.status)
	router.GET("/opportunities", s.opportunities)
	router.POST("/stop", s.stop)
	return s
}

// Run serves until ListenAndServe returns.
func (s *Server) Run() error {
	s.logger.WithField("addr", s.http.Addr).Info("Control surface listening")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"running": s.engine.Running(),
		"risk":    s.engine.RiskStatus(),
	})
}

func (s *Server) opportunities(c *gin.Context) {
	if s.journal == nil {
		c.JSON(http.StatusOK, gin.H{"opportunities": []models.Opportunity{}})
		return
	}
	limit := 50
	opps, err := s.journal.RecentOpportunities(c.Request.Context(), limit)
	if err != nil {
		s.logger.WithError(err).Error("Failed to read opportunity journal")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "journal unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"opportunities": opps})
}

type stopRequest struct {
	Reason string `json:"reason" binding:"required"`
}

func (s *Server) stop(c *gin.Context) {
	var req stopRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reason is required"})
		return
	}
	s.engine.Stop(req.Reason)
	c.JSON(http.StatusOK, gin.H{"stopped": true, "reason": req.Reason})
}
