// Package api serves a game instance over HTTP.
// GET endpoints are public. Creating nations requires the admin bearer token.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"

	"github.com/talgya/cli-mmo/internal/game"
	"github.com/talgya/cli-mmo/internal/jobs"
	"github.com/talgya/cli-mmo/internal/social"
	"github.com/talgya/cli-mmo/internal/world"
)

const (
	maxBodyBytes      = 64 << 10
	defaultTickLimit  = 50
	maxTickLimit      = 1000
	jobsPerMinute     = 120
	shutdownGraceTime = 5 * time.Second
)

// Server exposes one game instance.
type Server struct {
	Game     *game.Game
	Port     int
	AdminKey string // Bearer token for POST /nations. Empty disables it.
	Log      *slog.Logger

	limiter *RateLimiter
	stream  *Hub
	srv     *http.Server
}

// NewServer creates a server and subscribes its stream to the game's ticks.
func NewServer(g *game.Game, port int, adminKey string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		Game:     g,
		Port:     port,
		AdminKey: adminKey,
		Log:      log,
		limiter:  NewRateLimiter(jobsPerMinute, time.Minute),
		stream:   NewHub(log),
	}
	g.Subscribe(s.stream.Broadcast)
	return s
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/jobs", RateLimitMiddleware(s.limiter, s.handleSubmitJob))
	mux.HandleFunc("GET /api/v1/jobs/{id}", s.handleJob)
	mux.HandleFunc("GET /api/v1/map", s.handleMap)
	mux.HandleFunc("GET /api/v1/map/{q}/{r}", s.handleTerritory)
	mux.HandleFunc("GET /api/v1/nations", s.handleNations)
	mux.HandleFunc("GET /api/v1/nations/{id}", s.handleNation)
	mux.HandleFunc("POST /api/v1/nations", s.adminOnly(s.handleCreateNation))
	mux.HandleFunc("GET /api/v1/ticks", s.handleTicks)
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/stream", s.stream.ServeHTTP)

	return corsMiddleware(mux)
}

// Start begins serving in a goroutine.
func (s *Server) Start() {
	addr := fmt.Sprintf(":%d", s.Port)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.Log.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "")

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Log.Error("HTTP server error", "error", err)
		}
	}()
}

// Shutdown closes stream clients and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stream.Close()
	s.limiter.Close()
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, shutdownGraceTime)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

// corsMiddleware allows the origins listed in CORS_ORIGINS plus local dev servers.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.AdminKey == "" {
			writeError(w, http.StatusForbidden, "admin endpoints disabled (no WORLDSIM_ADMIN_KEY set)")
			return
		}
		if !s.checkBearerToken(r) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "request body too large or unreadable")
		return
	}
	req, err := jobs.Decode(body)
	if err == nil {
		var id string
		id, err = s.Game.Submit(req)
		if err == nil {
			w.Header().Set("Location", "/api/v1/jobs/"+id)
			writeJSONStatus(w, http.StatusAccepted, map[string]string{"id": id, "status": string(game.JobQueued)})
			return
		}
	}

	switch {
	case eris.Is(err, jobs.ErrMalformedJob):
		writeError(w, http.StatusBadRequest, err.Error())
	case eris.Is(err, jobs.ErrDuplicateJob):
		writeError(w, http.StatusConflict, err.Error())
	case eris.Is(err, jobs.ErrQueueClosed):
		writeError(w, http.StatusServiceUnavailable, "job queue closed")
	default:
		s.Log.Error("job submission failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	st, ok := s.Game.JobStatus(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, st)
}

func (s *Server) handleMap(w http.ResponseWriter, r *http.Request) {
	g := s.Game
	writeJSON(w, map[string]any{
		"width":       g.World.Width,
		"height":      g.World.Height,
		"territories": g.WorldEntries(),
	})
}

func (s *Server) handleTerritory(w http.ResponseWriter, r *http.Request) {
	q, errQ := strconv.Atoi(r.PathValue("q"))
	rr, errR := strconv.Atoi(r.PathValue("r"))
	if errQ != nil || errR != nil {
		writeError(w, http.StatusBadRequest, "coordinates must be integers")
		return
	}
	coord := world.HexCoord{Q: q, R: rr}
	t, ok := s.Game.Territory(coord)
	if !ok {
		writeError(w, http.StatusNotFound, "no territory at "+coord.String())
		return
	}
	writeJSON(w, world.Entry{Coordinates: coord, Territory: t})
}

func (s *Server) handleNations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Game.AllNations())
}

func (s *Server) handleNation(w http.ResponseWriter, r *http.Request) {
	n, ok := s.Game.Nation(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "nation not found")
		return
	}
	writeJSON(w, n)
}

type createNationRequest struct {
	Name     string `json:"name"`
	Code     string `json:"code"`
	LeaderID string `json:"leader_id"`
}

func (s *Server) handleCreateNation(w http.ResponseWriter, r *http.Request) {
	var req createNationRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	n, err := s.Game.CreateNation(r.Context(), req.Name, req.Code, req.LeaderID)
	switch {
	case err == nil:
		writeJSONStatus(w, http.StatusCreated, n)
	case eris.Is(err, game.ErrInvalidNation):
		writeError(w, http.StatusBadRequest, err.Error())
	case eris.Is(err, social.ErrDuplicateNation):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.Log.Error("create nation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) handleTicks(w http.ResponseWriter, r *http.Request) {
	limit := defaultTickLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxTickLimit)
	}
	recs, err := s.Game.Records(r.Context(), limit)
	if err != nil {
		s.Log.Error("load tick records failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, recs)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"name":           "cli-mmo",
		"game":           s.Game.Status(),
		"stream_clients": s.stream.Len(),
	})
}

func writeJSON(w http.ResponseWriter, data any) {
	writeJSONStatus(w, http.StatusOK, data)
}

func writeJSONStatus(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSONStatus(w, code, map[string]string{"error": msg})
}
