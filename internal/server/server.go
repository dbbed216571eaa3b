// Package server exposes the classification pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/smartbite/smartbite/internal/pipeline"
	"github.com/smartbite/smartbite/internal/storage"
)

const (
	DefaultMaxUploadSize = 10 << 20
	shutdownTimeout      = 10 * time.Second
	imageField           = "image"
	defaultHistoryLimit  = 50
)

// Classifier runs the classify-and-enrich pipeline.
type Classifier interface {
	ClassifyAndEnrich(ctx context.Context, raw []byte) (*pipeline.Result, error)
}

// History lists and clears past analyses.
type History interface {
	ListHistory(limit int) ([]storage.HistoryEntry, error)
	ClearHistory() error
}

type Options struct {
	Port          int
	MaxUploadSize int64
	CORSOrigins   []string
}

// Server is the HTTP front-end.
type Server struct {
	classifier Classifier
	history    History
	opts       Options
	router     *gin.Engine
}

// New builds the router. history may be nil, which disables the history
// routes.
func New(classifier Classifier, history History, opts Options) *Server {
	if opts.MaxUploadSize <= 0 {
		opts.MaxUploadSize = DefaultMaxUploadSize
	}
	s := &Server{
		classifier: classifier,
		history:    history,
		opts:       opts,
	}
	s.router = s.setupRouter()
	return s
}

func (s *Server) setupRouter() *gin.Engine {
	router := gin.New()
	router.MaxMultipartMemory = s.opts.MaxUploadSize

	router.Use(RequestID())
	router.Use(Logger())
	router.Use(Recovery())
	router.Use(cors.New(corsConfig(s.opts.CORSOrigins)))
	router.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	router.GET("/", s.handleRoot)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.POST("/classify", s.handleClassify)
		if s.history != nil {
			api.GET("/history", s.handleListHistory)
			api.DELETE("/history", s.handleClearHistory)
		}
	}

	return router
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.opts.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("starting http server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	log.Info().Msg("http server stopped")
	return nil
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"msg": "Welcome to the SmartBite backend!"})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"msg": "ok!"})
}

func (s *Server) handleClassify(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.opts.MaxUploadSize)

	raw, err := s.readUpload(c)
	if err != nil {
		s.classifyFailed(c, err)
		return
	}

	ctx := pipeline.WithOrigin(c.Request.Context(), pipeline.Origin{
		Source:    "http",
		RequestID: c.GetString(requestIDKey),
	})
	res, err := s.classifier.ClassifyAndEnrich(ctx, raw)
	if err != nil {
		s.classifyFailed(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}

func (s *Server) readUpload(c *gin.Context) ([]byte, error) {
	fh, err := c.FormFile(imageField)
	if err != nil {
		return nil, err
	}
	if fh.Size > s.opts.MaxUploadSize {
		return nil, &http.MaxBytesError{Limit: s.opts.MaxUploadSize}
	}

	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open upload: %w", err)
	}
	defer f.Close()

	raw, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	return raw, nil
}

func (s *Server) classifyFailed(c *gin.Context, err error) {
	resp := MapClassifyError(err)
	_ = c.Error(err)
	c.JSON(resp.StatusCode, DetailResponse{Detail: resp.Detail})
}

type historyResponse struct {
	Items []storage.HistoryEntry `json:"items"`
}

func (s *Server) handleListHistory(c *gin.Context) {
	limit := defaultHistoryLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, DetailResponse{Detail: "limit must be a positive integer"})
			return
		}
		limit = n
	}

	items, err := s.history.ListHistory(limit)
	if err != nil {
		_ = c.Error(err)
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to load history")
		return
	}
	c.JSON(http.StatusOK, historyResponse{Items: items})
}

func (s *Server) handleClearHistory(c *gin.Context) {
	if err := s.history.ClearHistory(); err != nil {
		_ = c.Error(err)
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to clear history")
		return
	}
	c.Status(http.StatusNoContent)
}
