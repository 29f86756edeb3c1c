package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/banshee-data/lane.report/internal/config"
	"github.com/banshee-data/lane.report/internal/lane/l1mask"
	"github.com/banshee-data/lane.report/internal/lane/l4state"
	"github.com/banshee-data/lane.report/internal/lane/monitor"
	"github.com/banshee-data/lane.report/internal/lane/pipeline"
	"github.com/banshee-data/lane.report/internal/lane/storage/sqlite"
	"github.com/banshee-data/lane.report/internal/version"
)

// maxMaskBytes bounds an uploaded mask image.
const maxMaskBytes = 32 << 20

// Server exposes lane sessions over HTTP.
type Server struct {
	registry *Registry
	store    *sqlite.RunStore // optional
	tuning   *config.TuningConfig
	logger   *logrus.Logger
}

// NewServer creates a server. store may be nil, in which case sessions
// are kept in memory only and the /runs endpoints report 404.
func NewServer(tuning *config.TuningConfig, store *sqlite.RunStore, logger *logrus.Logger) *Server {
	if tuning == nil {
		tuning = config.DefaultTuningConfig()
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &Server{
		registry: NewRegistry(),
		store:    store,
		tuning:   tuning,
		logger:   logger,
	}
}

// Registry returns the live session registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggingMiddleware(s.logger))
	s.RegisterRoutes(router)
	return router
}

// RegisterRoutes registers the API routes on router.
func (s *Server) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", s.health)

	api := router.Group("/api/v1")
	{
		api.GET("/sessions", s.listSessions)
		api.POST("/sessions", s.createSession)
		api.GET("/sessions/:id", s.getSession)
		api.POST("/sessions/:id/frames", s.postFrame)
		api.GET("/sessions/:id/chart", s.sessionChart)
		api.DELETE("/sessions/:id", s.deleteSession)
		api.GET("/runs", s.listRuns)
		api.GET("/runs/:id", s.getRun)
		api.GET("/runs/:id/chart", s.runChart)
	}
}

// LoggingMiddleware logs method, path, status and duration of each
// request at info level, or warn for 4xx/5xx.
func LoggingMiddleware(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		entry := logger.WithFields(logrus.Fields{
			"method":      c.Request.Method,
			"path":        c.Request.URL.RequestURI(),
			"status":      status,
			"duration_ms": float64(time.Since(start).Nanoseconds()) / 1e6,
		})
		msg := fmt.Sprintf("%d %s %s", status, c.Request.Method, c.Request.URL.Path)
		if status >= 400 {
			entry.Warn(msg)
			return
		}
		entry.Info(msg)
	}
}

func newSessionID() string {
	return uuid.New().String()
}

func (s *Server) writeJSONError(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"error": msg})
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"version":  version.Version,
		"sessions": s.registry.Len(),
	})
}

type createSessionRequest struct {
	Source string `json:"source"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
	RunID     string `json:"run_id,omitempty"`
}

func (s *Server) createSession(c *gin.Context) {
	var req createSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			s.writeJSONError(c, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
			return
		}
	}

	cfg := pipeline.SessionConfig{Tuning: s.tuning}
	var run *sqlite.Run
	if s.store != nil {
		params, err := json.Marshal(s.tuning)
		if err != nil {
			s.writeJSONError(c, http.StatusInternalServerError, fmt.Sprintf("encode tuning: %v", err))
			return
		}
		cfg.ID = newSessionID()
		run = &sqlite.Run{SessionID: cfg.ID, Source: req.Source, ParamsJSON: params}
		if err := s.store.CreateRun(run); err != nil {
			s.logger.WithError(err).Error("create run failed")
			s.writeJSONError(c, http.StatusInternalServerError, "failed to create run")
			return
		}
		cfg.Sink = s.store
		cfg.RunID = run.RunID
	}

	session, err := pipeline.NewSession(cfg)
	if err != nil {
		s.writeJSONError(c, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.registry.Add(session, req.Source); err != nil {
		s.writeJSONError(c, http.StatusConflict, err.Error())
		return
	}

	s.logger.WithFields(logrus.Fields{"session_id": session.ID(), "run_id": session.RunID()}).Info("session created")
	c.JSON(http.StatusCreated, createSessionResponse{SessionID: session.ID(), RunID: session.RunID()})
}

// sessionStatus is the GET /sessions/:id body.
type sessionStatus struct {
	SessionID    string                `json:"session_id"`
	RunID        string                `json:"run_id,omitempty"`
	Frames       int                   `json:"frames"`
	FrozenFrames int                   `json:"frozen_frames"`
	Left         l4state.Summary       `json:"left"`
	Right        l4state.Summary       `json:"right"`
	Last         *pipeline.FrameResult `json:"last,omitempty"`
}

func statusOf(session *pipeline.Session) sessionStatus {
	left, right := session.Summary()
	st := sessionStatus{
		SessionID:    session.ID(),
		RunID:        session.RunID(),
		Frames:       session.FrameCount(),
		FrozenFrames: session.FrozenCount(),
		Left:         left,
		Right:        right,
	}
	if last, ok := session.Last(); ok {
		st.Last = &last
	}
	return st
}

func (s *Server) listSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": s.registry.IDs()})
}

func (s *Server) getSession(c *gin.Context) {
	var st sessionStatus
	err := s.registry.With(c.Param("id"), func(session *pipeline.Session) error {
		st = statusOf(session)
		return nil
	})
	if err != nil {
		s.writeSessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) postFrame(c *gin.Context) {
	data, source, err := readMaskUpload(c)
	if err != nil {
		s.writeJSONError(c, http.StatusBadRequest, err.Error())
		return
	}
	mask, format, err := l1mask.DecodeMaskLimited(bytes.NewReader(data), s.maskLimits())
	if err != nil {
		s.writeJSONError(c, http.StatusBadRequest, err.Error())
		return
	}

	var (
		res     pipeline.FrameResult
		procErr error
	)
	err = s.registry.With(c.Param("id"), func(session *pipeline.Session) error {
		res, procErr = session.ProcessFrameFrom(mask, source)
		return nil
	})
	if err != nil {
		s.writeSessionError(c, err)
		return
	}

	if procErr != nil {
		s.logger.WithFields(logrus.Fields{
			"session_id": c.Param("id"),
			"format":     format,
		}).WithError(procErr).Warn("frame rejected")
		body := gin.H{"error": procErr.Error()}
		if res.Frozen {
			body["result"] = res
		}
		c.JSON(http.StatusConflict, body)
		return
	}
	c.JSON(http.StatusOK, res)
}

// maskLimits caps uploads at the configured frame size when one is set.
func (s *Server) maskLimits() l1mask.Limits {
	return l1mask.Limits{
		MaxWidth:  s.tuning.GetFrameWidth(),
		MaxHeight: s.tuning.GetFrameHeight(),
	}
}

// readMaskUpload returns the image bytes from the multipart field "mask"
// or, for any other content type, the raw body.
func readMaskUpload(c *gin.Context) ([]byte, string, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxMaskBytes)

	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		fh, err := c.FormFile("mask")
		if err != nil {
			return nil, "", fmt.Errorf("multipart field \"mask\" is required: %w", err)
		}
		data, err := readFormFile(fh)
		return data, fh.Filename, err
	}

	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read body: %w", err)
	}
	if len(data) == 0 {
		return nil, "", errors.New("empty mask body")
	}
	return data, c.GetHeader("X-Frame-Source"), nil
}

func readFormFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	return data, nil
}

func (s *Server) sessionChart(c *gin.Context) {
	var records []sqlite.FrameRecord
	err := s.registry.With(c.Param("id"), func(session *pipeline.Session) error {
		records = session.Records()
		return nil
	})
	if err != nil {
		s.writeSessionError(c, err)
		return
	}
	s.renderChart(c, "session "+c.Param("id"), records)
}

func (s *Server) deleteSession(c *gin.Context) {
	session, err := s.registry.Remove(c.Param("id"))
	if err != nil {
		s.writeSessionError(c, err)
		return
	}
	if s.store != nil && session.RunID() != "" {
		if err := s.store.CompleteRun(session.RunID()); err != nil {
			s.logger.WithError(err).WithField("run_id", session.RunID()).Error("complete run failed")
		}
	}
	s.logger.WithFields(logrus.Fields{"session_id": session.ID(), "frames": session.FrameCount()}).Info("session ended")
	c.JSON(http.StatusOK, statusOf(session))
}

func (s *Server) listRuns(c *gin.Context) {
	if s.store == nil {
		s.writeJSONError(c, http.StatusNotFound, "no run store configured")
		return
	}
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeJSONError(c, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	runs, err := s.store.ListRuns(limit)
	if err != nil {
		s.writeJSONError(c, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []*sqlite.Run{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) getRun(c *gin.Context) {
	if s.store == nil {
		s.writeJSONError(c, http.StatusNotFound, "no run store configured")
		return
	}
	run, err := s.store.GetRun(c.Param("id"))
	if err != nil {
		s.writeRunError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) runChart(c *gin.Context) {
	if s.store == nil {
		s.writeJSONError(c, http.StatusNotFound, "no run store configured")
		return
	}
	run, err := s.store.GetRun(c.Param("id"))
	if err != nil {
		s.writeRunError(c, err)
		return
	}
	records, err := s.store.ListFrames(run.RunID)
	if err != nil {
		s.writeJSONError(c, http.StatusInternalServerError, err.Error())
		return
	}
	s.renderChart(c, "run "+run.RunID, records)
}

func (s *Server) renderChart(c *gin.Context, title string, records []sqlite.FrameRecord) {
	var buf bytes.Buffer
	if err := monitor.RenderHistoryChart(&buf, title, records); err != nil {
		s.writeJSONError(c, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

func (s *Server) writeSessionError(c *gin.Context, err error) {
	if errors.Is(err, ErrSessionNotFound) {
		s.writeJSONError(c, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSONError(c, http.StatusInternalServerError, err.Error())
}

func (s *Server) writeRunError(c *gin.Context, err error) {
	if errors.Is(err, sqlite.ErrRunNotFound) {
		s.writeJSONError(c, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSONError(c, http.StatusInternalServerError, err.Error())
}
