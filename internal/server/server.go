package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strconv"
	"time"

	"voiceletter/internal/aiclient"
	"voiceletter/internal/app"
	"voiceletter/internal/ratelimit"
	"voiceletter/internal/util"
	"voiceletter/pkg/domain"
)

const audioContentType = "audio/m4a"

// Config wires required dependencies for the HTTP server.
type Config struct {
	App *app.App
	AI  *aiclient.Client

	MaxUploadBytes int64

	// Rate limiting is optional; it activates when a redis address and a
	// positive limit are both configured.
	RedisAddr                string
	RedisPassword            string
	UploadRateLimitPerMinute int
	LoginRateLimitPerMinute  int
}

// Server exposes the voice-letter HTTP endpoints.
type Server struct {
	app            *app.App
	ai             *aiclient.Client
	mux            *http.ServeMux
	maxUploadBytes int64
	uploadLimiter  *ratelimit.FixedWindowLimiter
	loginLimiter   *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	s := &Server{
		app:            cfg.App,
		ai:             cfg.AI,
		mux:            http.NewServeMux(),
		maxUploadBytes: normalizeMaxBytes(cfg.MaxUploadBytes),
	}
	newLimiter := func(name string, limit int) (*ratelimit.FixedWindowLimiter, error) {
		if limit <= 0 || cfg.RedisAddr == "" {
			return nil, nil
		}
		limiter, err := ratelimit.NewRedisFixedWindowLimiter(
			cfg.RedisAddr, cfg.RedisPassword,
			"voiceletter:ratelimit:"+name, limit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init %s limiter: %w", name, err)
		}
		return limiter, nil
	}
	var err error
	if s.uploadLimiter, err = newLimiter("upload", cfg.UploadRateLimitPerMinute); err != nil {
		return nil, err
	}
	if s.loginLimiter, err = newLimiter("login", cfg.LoginRateLimitPerMinute); err != nil {
		return nil, err
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler with the middleware chain applied.
func (s *Server) Router() http.Handler {
	var h http.Handler = s.mux
	h = util.WithRequestLog(h)
	h = util.WithRequestID(h)
	h = util.WithCORS(h)
	h = util.WithSecurityHeaders(h)
	return h
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	// audio
	s.mux.HandleFunc("POST /audio", s.handleSaveAudio)
	s.mux.HandleFunc("GET /audio/{id}", s.handleGetAudio)
	s.mux.HandleFunc("GET /audio/file/{id}", s.handleGetAudioFile)
	s.mux.HandleFunc("GET /audio/owner/{id}", s.handleListByOwner)
	s.mux.HandleFunc("GET /audio/receiver/{id}", s.handleListByReceiver)
	s.mux.HandleFunc("POST /audio/recommend/title", s.handleRecommendTitle)
	s.mux.HandleFunc("POST /audio/recommend/text", s.handleRecommendText)
	s.mux.HandleFunc("POST /audio/text", s.handleTranscribe)

	// members
	s.mux.HandleFunc("GET /member/{id}", s.handleGetMember)
	s.mux.HandleFunc("POST /member", s.handleLogin)
	s.mux.HandleFunc("POST /member/register", s.handleRegister)
	s.mux.HandleFunc("POST /member/follow", s.handleFollow)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSaveAudio(w http.ResponseWriter, r *http.Request) {
	if !s.allowRate(w, r, s.uploadLimiter, "upload limit reached, try again later") {
		return
	}
	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	}
	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart body required")
		return
	}
	record, err := s.app.SaveAudio(r.Context(), mr)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleGetAudio(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	record, err := s.app.GetAudio(r.Context(), id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleGetAudioFile(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	record, rc, err := s.app.OpenAudioFile(r.Context(), id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", audioContentType)
	w.Header().Set("Content-Disposition",
		mime.FormatMediaType("attachment", map[string]string{"filename": record.FileName}))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		util.LoggerFromContext(r.Context()).Warn("stream audio file", "audio_id", id, "err", err)
	}
}

func (s *Server) handleListByOwner(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	records, err := s.app.ListAudioByOwner(r.Context(), id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleListByReceiver(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	records, err := s.app.ListAudioByReceiver(r.Context(), id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if len(records) == 0 {
		writeError(w, http.StatusNotFound, "no letters for receiver")
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleRecommendTitle(w http.ResponseWriter, r *http.Request) {
	var req domain.RecommendTitleRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	resp, err := s.ai.RecommendTitle(r.Context(), req)
	if err != nil {
		writeAIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRecommendText(w http.ResponseWriter, r *http.Request) {
	var req domain.RecommendTextRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	resp, err := s.ai.ProcessContent(r.Context(), req)
	if err != nil {
		writeAIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleTranscribe forwards the uploaded file part to the AI service
// without persisting anything locally.
func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	}
	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart body required")
		return
	}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			if bodyTooLarge(err) {
				writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			writeError(w, http.StatusBadRequest, "malformed multipart body")
			return
		}
		if part.FormName() == "file" && part.FileName() != "" {
			resp, err := s.ai.Transcribe(r.Context(), part.FileName(), part)
			part.Close()
			if err != nil {
				if bodyTooLarge(err) {
					writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
					return
				}
				writeAIError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, resp)
			return
		}
		part.Close()
	}
	writeError(w, http.StatusBadRequest, "file part is required (field: file)")
}

func (s *Server) handleGetMember(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	member, err := s.app.GetMember(r.Context(), id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, member)
}

type loginRequest struct {
	ID       int    `json:"id"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.allowRate(w, r, s.loginLimiter, "login limit reached, try again later") {
		return
	}
	var req loginRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	member, err := s.app.Login(r.Context(), req.ID, req.Password)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, member)
}

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	member, err := s.app.RegisterMember(r.Context(), req.Username, req.Password)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, member.Ref())
}

type followRequest struct {
	FollowerID int `json:"followerId"`
	FolloweeID int `json:"followeeId"`
}

func (s *Server) handleFollow(w http.ResponseWriter, r *http.Request) {
	var req followRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.app.Follow(r.Context(), req.FollowerID, req.FolloweeID); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// pathID extracts the numeric {id} segment; non-numeric ids report
// not-found, matching the lookup contract.
func pathID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "id is not a number")
		return 0, false
	}
	return id, true
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	if limiter == nil {
		return true
	}
	if limiter.Allow(clientIP(r)) {
		return true
	}
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func normalizeMaxBytes(value int64) int64 {
	if value <= 0 {
		return 50 << 20
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// bodyTooLarge reports whether err stems from the MaxBytesReader cap,
// wherever in the multipart pipeline it surfaced.
func bodyTooLarge(err error) bool {
	var maxBytesErr *http.MaxBytesError
	return errors.As(err, &maxBytesErr)
}

// writeAppError maps the application error taxonomy onto HTTP statuses.
// Messages stay short; internals are never exposed.
func writeAppError(w http.ResponseWriter, err error) {
	switch {
	case bodyTooLarge(err):
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
	case errors.Is(err, app.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrAlreadyFollowing):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// writeAIError propagates the upstream status when the AI service answered,
// and reports a bad gateway when it was unreachable or malformed.
func writeAIError(w http.ResponseWriter, err error) {
	var apiErr *aiclient.APIError
	if errors.As(err, &apiErr) {
		writeError(w, apiErr.Status, apiErr.Message)
		return
	}
	writeError(w, http.StatusBadGateway, "ai service unavailable")
}
