package main

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/internal/rate"
	"github.com/MrEthical07/goSession/middleware"
)

const maxBodyBytes = 1 << 16

type server struct {
	engine  *goSession.Engine
	limiter *rate.Limiter
	logger  *slog.Logger
}

type credentialsRequest struct {
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	Principal        struct {
		ID       string   `json:"id"`
		Username string   `json:"username"`
		Roles    []string `json:"roles"`
	} `json:"principal"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// newRouter mounts the HTTP API. metrics, limiter and proxies may be nil; a nil proxies
// resolver ignores X-Forwarded-For.
func newRouter(engine *goSession.Engine, metrics http.Handler, limiter *rate.Limiter, proxies *middleware.IPResolver, logger *slog.Logger) *mux.Router {
	s := &server{engine: engine, limiter: limiter, logger: logger}
	guard := middleware.Guard(engine)

	r := mux.NewRouter()
	r.Use(proxies.Context)

	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodGet)
	if metrics != nil {
		r.Handle("/metrics", metrics).Methods(http.MethodGet)
	}

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/register", s.handleRegister).Methods(http.MethodPost)
	v1.Handle("/login", s.throttle("login", http.HandlerFunc(s.handleLogin))).Methods(http.MethodPost)
	v1.Handle("/refresh", s.throttle("refresh", http.HandlerFunc(s.handleRefresh))).Methods(http.MethodPost)
	v1.HandleFunc("/logout", s.handleLogout).Methods(http.MethodPost)
	v1.Handle("/logout-all", guard(http.HandlerFunc(s.handleLogoutAll))).Methods(http.MethodPost)
	v1.Handle("/me", guard(http.HandlerFunc(s.handleMe))).Methods(http.MethodGet)
	admin := func(h http.HandlerFunc) http.Handler { return guard(middleware.RequireRole("admin")(h)) }
	v1.Handle("/admin/unlock", admin(s.handleUnlock)).Methods(http.MethodPost)
	v1.Handle("/admin/delete-sessions", admin(s.handleDeleteSessions)).Methods(http.MethodPost)

	return r
}

func (s *server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.engine.Register(r.Context(), goSession.RegisterRequest{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTokenResponse(res))
}

func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.engine.Login(r.Context(), goSession.LoginRequest{
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTokenResponse(res))
}

func (s *server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "refresh_token required"})
		return
	}
	res, err := s.engine.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTokenResponse(res))
}

// handleLogout accepts the refresh token in the body and an optional bearer access token.
func (s *server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !s.decodeOptional(w, r, &req) {
		return
	}
	access, _ := middleware.BearerToken(r)
	if req.RefreshToken == "" && access == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "refresh_token or bearer token required"})
		return
	}
	if err := s.engine.Logout(r.Context(), req.RefreshToken, access); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFromContext(r.Context())
	n, err := s.engine.LogoutAll(r.Context(), claims.PrincipalID())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"revoked": n})
}

func (s *server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFromContext(r.Context())
	sessions, err := s.engine.ActiveSessions(r.Context(), claims.PrincipalID())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":              claims.PrincipalID(),
		"roles":           claims.Roles,
		"active_sessions": sessions,
	})
}

type unlockRequest struct {
	Username string `json:"username"`
}

func (s *server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	var req unlockRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Username == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "username required"})
		return
	}
	if err := s.engine.Unlock(r.Context(), req.Username); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type deleteSessionsRequest struct {
	PrincipalID string `json:"principal_id"`
}

func (s *server) handleDeleteSessions(w http.ResponseWriter, r *http.Request) {
	var req deleteSessionsRequest
	if !s.decode(w, r, &req) {
		return
	}
	n, err := s.engine.DeleteSessions(r.Context(), req.PrincipalID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

// throttle bounds requests per client address. A limiter outage lets requests through;
// the engine's own lockout still applies.
func (s *server) throttle(scope string, next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := goSession.ClientIPFromContext(r.Context())
		d, err := s.limiter.Allow(r.Context(), scope, ip)
		switch {
		case err == nil:
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		case errors.Is(err, rate.ErrRateLimited):
			w.Header().Set("Retry-After", strconv.Itoa(ceilSeconds(d.RetryAfter)))
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "too many requests"})
			return
		default:
			s.logger.WarnContext(r.Context(), "throttle unavailable",
				slog.String("scope", scope),
				slog.Any("error", err),
			)
		}
		next.ServeHTTP(w, r)
	})
}

func ceilSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

func (s *server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	return s.decodeBody(w, r, dst, false)
}

// decodeOptional is decode for endpoints where an empty body is valid.
func (s *server) decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	return s.decodeBody(w, r, dst, true)
}

func (s *server) decodeBody(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return true
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return false
	}
	return true
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, goSession.ErrAccountLocked):
		return http.StatusLocked
	case errors.Is(err, goSession.ErrInvalidCredentials),
		errors.Is(err, goSession.ErrTokenInvalid),
		errors.Is(err, goSession.ErrTokenExpired),
		errors.Is(err, goSession.ErrTokenRevoked):
		return http.StatusUnauthorized
	case errors.Is(err, goSession.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, goSession.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, goSession.ErrLockoutUnavailable),
		errors.Is(err, goSession.ErrBlacklistUnavailable),
		errors.Is(err, goSession.ErrSessionStoreUnavailable),
		errors.Is(err, goSession.ErrEngineNotReady):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage keeps backend detail out of responses.
func publicMessage(status int, err error) string {
	switch status {
	case http.StatusInternalServerError:
		return "internal error"
	case http.StatusServiceUnavailable:
		return "service unavailable"
	case http.StatusUnauthorized:
		switch {
		case errors.Is(err, goSession.ErrInvalidCredentials):
			return goSession.ErrInvalidCredentials.Error()
		case errors.Is(err, goSession.ErrTokenExpired):
			return goSession.ErrTokenExpired.Error()
		case errors.Is(err, goSession.ErrTokenRevoked):
			return goSession.ErrTokenRevoked.Error()
		}
		return goSession.ErrTokenInvalid.Error()
	}
	return err.Error()
}

func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)

	var locked *goSession.AccountLockedError
	if errors.As(err, &locked) {
		w.Header().Set("Retry-After", strconv.Itoa(int(locked.RetryAfter()/time.Second)))
	}
	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.Any("error", err),
		)
	}
	writeJSON(w, status, errorResponse{Error: publicMessage(status, err)})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func toTokenResponse(res *goSession.AuthResult) tokenResponse {
	out := tokenResponse{
		AccessToken:      res.AccessToken,
		RefreshToken:     res.RefreshToken,
		TokenType:        "Bearer",
		AccessExpiresAt:  res.AccessExpiresAt,
		RefreshExpiresAt: res.RefreshExpiresAt,
	}
	out.Principal.ID = res.Principal.ID
	out.Principal.Username = res.Principal.Username
	out.Principal.Roles = res.Principal.Roles
	if out.Principal.Roles == nil {
		out.Principal.Roles = []string{}
	}
	return out
}
