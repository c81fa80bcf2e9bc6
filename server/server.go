package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/chaos-io/placement/scheduler"
)

// Scheduler 由 scheduler.Scheduler 实现
type Scheduler interface {
	Trigger() (string, error)
	Status() scheduler.Status
}

type Server struct {
	httpServer *http.Server
}

func New(addr string, sched Scheduler) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(sched),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

func NewRouter(sched Scheduler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(Logger())

	h := &handler{sched: sched}
	router.GET("/health", h.health)
	router.GET("/status", h.status)

	runs := router.Group("/runs")
	{
		runs.POST("", h.trigger)
		runs.GET("/last", h.lastRun)
	}
	return router
}

// Run 阻塞直到服务关闭
func (s *Server) Run() error {
	logrus.WithField("addr", s.httpServer.Addr).Info("status server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type handler struct {
	sched Scheduler
}

func (h *handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handler) status(c *gin.Context) {
	c.JSON(http.StatusOK, h.sched.Status())
}

func (h *handler) trigger(c *gin.Context) {
	runID, err := h.sched.Trigger()
	if errors.Is(err, scheduler.ErrRunInProgress) {
		c.JSON(http.StatusConflict, gin.H{
			"error":   err.Error(),
			"current": h.sched.Status().Current,
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run_id": runID})
}

func (h *handler) lastRun(c *gin.Context) {
	status := h.sched.Status()
	if status.Last == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no completed run yet"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"summary": status.Last,
		"error":   status.LastError,
	})
}
