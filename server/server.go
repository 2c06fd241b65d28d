package server

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/mmacy/modul8r/broadcast"
	"github.com/mmacy/modul8r/config"
	"github.com/mmacy/modul8r/logging"
	"github.com/mmacy/modul8r/models"
	"github.com/mmacy/modul8r/openai"
	"github.com/mmacy/modul8r/pdfconv"
	"github.com/mmacy/modul8r/pipeline"
)

const correlationHeader = "X-Correlation-ID"

// Server exposes the conversion pipeline and telemetry channel over HTTP.
type Server struct {
	cfg      *config.Config
	log      zerolog.Logger
	capture  *logging.Capture
	bc       *broadcast.Broadcaster
	monitor  *broadcast.LagMonitor
	cache    *openai.ModelCache
	pipe     *pipeline.Pipeline
	raster   *pdfconv.Rasterizer
	upgrader websocket.Upgrader
}

// NewServer wires the HTTP surface over the given components.
func NewServer(cfg *config.Config, log zerolog.Logger, capture *logging.Capture, bc *broadcast.Broadcaster, monitor *broadcast.LagMonitor, cache *openai.ModelCache, pipe *pipeline.Pipeline, raster *pdfconv.Rasterizer) *Server {
	return &Server{
		cfg:     cfg,
		log:     log,
		capture: capture,
		bc:      bc,
		monitor: monitor,
		cache:   cache,
		pipe:    pipe,
		raster:  raster,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Router builds the chi router with all routes and middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.correlationMiddleware)

	r.Get("/models", s.handleModels)
	r.Post("/convert", s.handleConvert)
	r.Get("/config", s.handleConfig)
	r.Get("/status", s.handleStatus)
	r.Get("/status/safeguards", s.handleSafeguards)
	r.Get("/ws/logs", s.handleWebSocket)
	return r
}

// Start begins serving on the configured address. Blocks.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.cfg.ServerAddr).Msg("HTTP server listening")
	return http.ListenAndServe(s.cfg.ServerAddr, s.Router())
}

// correlationMiddleware honors an incoming correlation id or mints one,
// echoes it back, and logs request start and completion.
func (s *Server) correlationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(correlationHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set(correlationHeader, requestID)

		log := s.log.With().Str("request_id", requestID).Logger()
		log.Info().Str("method", r.Method).Str("url", r.URL.Path).Msg("request started")

		start := time.Now()
		next.ServeHTTP(w, r)

		log.Info().Str("method", r.Method).Str("url", r.URL.Path).
			Dur("duration", time.Since(start)).Msg("request completed")
	})
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	list, err := s.cache.Models(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("failed to fetch models")
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to fetch models: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// pageResult is the per-file slice of the convert response.
type pageResult struct {
	Markdown  string         `json:"markdown"`
	Pages     int            `json:"pages"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	Failures  map[int]string `json:"failures,omitempty"`
	Error     string         `json:"error,omitempty"`
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, "no files provided")
		return
	}

	jobCfg, err := s.jobConfig(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if jobCfg.Model == "" {
		available, err := s.cache.Models(r.Context())
		if err != nil || len(available) == 0 {
			jobCfg.Model = s.cfg.DefaultModel
		} else {
			jobCfg.Model = available[0]
		}
	}

	s.log.Info().Int("file_count", len(files)).Str("model", jobCfg.Model).
		Str("detail", string(jobCfg.Detail)).Int("concurrency", jobCfg.Concurrency).
		Msg("starting conversion")

	results := make(map[string]pageResult, len(files))
	for _, header := range files {
		name := header.Filename
		if name == "" {
			name = "unknown.pdf"
		}
		results[name] = s.convertFile(r, header, jobCfg)
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) convertFile(r *http.Request, header *multipart.FileHeader, jobCfg models.JobConfig) pageResult {
	file, err := header.Open()
	if err != nil {
		return pageResult{Error: fmt.Sprintf("failed to open upload: %v", err)}
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return pageResult{Error: fmt.Sprintf("failed to read upload: %v", err)}
	}

	pages, err := s.raster.Pages(r.Context(), data)
	if err != nil {
		s.log.Error().Str("filename", header.Filename).Err(err).Msg("rasterization failed")
		return pageResult{Error: fmt.Sprintf("failed to rasterize PDF: %v", err)}
	}

	job := &models.Job{
		ID:        uuid.New().String(),
		Name:      header.Filename,
		Config:    jobCfg,
		CreatedAt: time.Now(),
	}
	job.Pages = make([]models.PageTask, len(pages))
	for i, img := range pages {
		job.Pages[i] = models.PageTask{JobID: job.ID, Index: i, Image: img}
	}
	if err := job.Validate(); err != nil {
		return pageResult{Error: err.Error()}
	}

	result, err := pipeline.NewAssembler(job).Collect(s.pipe.Run(r.Context(), job))
	if err != nil {
		s.log.Error().Str("job_id", job.ID).Err(err).Msg("assembly failed")
		return pageResult{Error: fmt.Sprintf("conversion failed: %v", err)}
	}

	s.log.Info().Str("job_id", job.ID).Str("filename", header.Filename).
		Int("succeeded", result.Succeeded).Int("failed", result.Failed).
		Msg("file converted")
	return pageResult{
		Markdown:  result.Markdown(),
		Pages:     job.TotalPages(),
		Succeeded: result.Succeeded,
		Failed:    result.Failed,
		Failures:  result.Failures,
	}
}

// jobConfig builds the job configuration snapshot from form values,
// rejecting out-of-range settings before any work starts.
func (s *Server) jobConfig(r *http.Request) (models.JobConfig, error) {
	cfg := models.JobConfig{
		Model:              r.FormValue("model"),
		Detail:             models.DetailHigh,
		Concurrency:        s.cfg.MaxConcurrentRequests,
		Timeout:            s.cfg.JobTimeout,
		MaxRetries:         s.cfg.RetryMaxAttempts,
		IncludeFailedPages: s.cfg.IncludeFailedPages,
	}

	if v := r.FormValue("detail"); v != "" {
		cfg.Detail = models.DetailLevel(v)
		if cfg.Detail != models.DetailLow && cfg.Detail != models.DetailHigh {
			return cfg, fmt.Errorf("detail must be low or high, got %q", v)
		}
	}
	if v := r.FormValue("concurrency"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("concurrency must be an integer, got %q", v)
		}
		if n < models.MinConcurrency || n > models.MaxConcurrency {
			return cfg, fmt.Errorf("concurrency must be in %d..%d, got %d", models.MinConcurrency, models.MaxConcurrency, n)
		}
		cfg.Concurrency = n
	}
	if v := r.FormValue("timeout_seconds"); v != "" {
		secs, err := strconv.ParseFloat(v, 64)
		if err != nil || secs <= 0 {
			return cfg, fmt.Errorf("timeout_seconds must be a positive number, got %q", v)
		}
		cfg.Timeout = time.Duration(secs * float64(time.Second))
	}
	return cfg, nil
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"max_concurrent_requests": s.cfg.MaxConcurrentRequests,
		"openai_default_model":    s.cfg.DefaultModel,
		"pdf_dpi":                 s.cfg.PDFDPI,
		"openai_timeout_seconds":  s.cfg.OpenAITimeout.Seconds(),
		"retry_max_attempts":      s.cfg.RetryMaxAttempts,
		"include_failed_pages":    s.cfg.IncludeFailedPages,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"version": "0.1.0",
		"settings": map[string]any{
			"max_concurrent_requests": s.cfg.MaxConcurrentRequests,
			"default_model":           s.cfg.DefaultModel,
		},
	})
}

func (s *Server) handleSafeguards(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"broadcast":   s.bc.Stats(),
		"lag_monitor": s.monitor.Stats(),
		"event_bus":   s.capture.Stats(),
		"model_cache": s.cache.Status(),
	})
}

// clientMessage is what subscribers may send over the websocket.
type clientMessage struct {
	Type string `json:"type"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	sub := s.bc.Subscribe(conn, s.capture.Snapshot())
	defer s.bc.Unsubscribe(sub)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.log.Warn().Str("subscriber", sub.ID).Msg("invalid JSON from subscriber")
			continue
		}

		switch msg.Type {
		case "ping":
			s.bc.Send(sub, models.PongEnvelope())
		case "get_status":
			env := models.Envelope{
				Type:      models.TypeStatus,
				Timestamp: time.Now().Format(time.RFC3339),
				Status:    "running",
				Message:   fmt.Sprintf("breaker %s", s.bc.BreakerState()),
			}
			s.bc.Send(sub, env)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
