package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ficherp/api/internal/fiche"
	"ficherp/api/internal/search"
	"ficherp/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		s.handleReady(w, r)
		return
	}

	// OAuth2 routes (no session required)
	if r.Method == http.MethodGet && r.URL.Path == "/api/oauth2/auth" {
		s.handleOAuthBegin(w, r)
		return
	}
	if r.Method == http.MethodGet && r.URL.Path == "/api/oauth2/callback" {
		s.handleOAuthCallback(w, r)
		return
	}

	caller, err := s.requireSession(r)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}

	parts := splitPath(r.URL.Path)

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/api/account":
		writeJSON(w, http.StatusOK, s.service.OwnAccount(caller))

	case r.Method == http.MethodGet && r.URL.Path == "/api/front/accounts":
		s.handleListAccounts(w, r, caller)

	case r.Method == http.MethodGet && r.URL.Path == "/api/search":
		s.handleSearch(w, r, caller)

	case r.Method == http.MethodPost && r.URL.Path == "/api/fiches":
		s.limited(w, r, caller, s.handleSubmitFiche)

	case r.Method == http.MethodPut && len(parts) == 3 && parts[0] == "api" && parts[1] == "fiches":
		s.limited(w, r, caller, func(w http.ResponseWriter, r *http.Request, caller Caller) {
			s.handleSubmitModification(w, r, caller, parts[2])
		})

	case r.Method == http.MethodPost && len(parts) == 4 && parts[0] == "api" && parts[1] == "fiches" && parts[3] == "messages":
		s.limited(w, r, caller, func(w http.ResponseWriter, r *http.Request, caller Caller) {
			s.handlePostMessage(w, r, caller, parts[2])
		})

	case r.Method == http.MethodPost && r.URL.Path == "/api/fiches/staff-submit":
		s.limited(w, r, caller, s.handleStaffSubmit)

	case r.Method == http.MethodGet && r.URL.Path == "/api/admin/whitelist":
		s.handleWhitelist(w, r, caller)

	case r.Method == http.MethodPost && r.URL.Path == "/api/admin/whitelist":
		s.handleAddWhitelist(w, r, caller)

	case r.Method == http.MethodDelete && len(parts) == 4 && parts[0] == "api" && parts[1] == "admin" && parts[2] == "whitelist":
		s.handleRemoveWhitelist(w, r, caller, parts[3])

	case r.Method == http.MethodPost && r.URL.Path == "/api/admin/ban":
		s.handleSetBan(w, r, caller, true)

	case r.Method == http.MethodPost && r.URL.Path == "/api/admin/unban":
		s.handleSetBan(w, r, caller, false)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
		"states":   map[string]any{"status": "ok"},
	}
	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{"status": "error", "error": err.Error()}
	}
	if err := s.service.PingStates(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["states"] = map[string]any{"status": "error", "error": err.Error()}
	}
	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleOAuthBegin(w http.ResponseWriter, r *http.Request) {
	url, err := s.service.BeginOAuth(r.Context(), r.URL.Query().Get("return_to"))
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	w.Header().Del("Content-Type")
	http.Redirect(w, r, url, http.StatusFound)
}

func (s *HTTPServer) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "code and state query parameters are required", nil)
		return
	}
	result, err := s.service.CompleteOAuth(r.Context(), code, state)
	if err != nil {
		status, errCode, message, details := mapError(err)
		writeError(w, status, errCode, message, details)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleListAccounts(w http.ResponseWriter, r *http.Request, caller Caller) {
	accounts, err := s.service.ListAccounts(r.Context(), caller)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": accounts})
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, _ Caller) {
	q := search.Query{
		Text:        r.URL.Query().Get("q"),
		FilterState: r.URL.Query().Get("state"),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "limit must be a positive integer", nil)
			return
		}
		q.Limit = limit
	}
	results, err := s.service.Search(r.Context(), q)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	if results == nil {
		results = []search.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *HTTPServer) handleSubmitFiche(w http.ResponseWriter, r *http.Request, caller Caller) {
	var body FicheInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	f, err := s.service.SubmitFiche(r.Context(), caller, body)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

func (s *HTTPServer) handleSubmitModification(w http.ResponseWriter, r *http.Request, caller Caller, ficheID string) {
	var body FicheInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	f, err := s.service.SubmitModification(r.Context(), caller, ficheID, body)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *HTTPServer) handlePostMessage(w http.ResponseWriter, r *http.Request, caller Caller, ficheID string) {
	var body MessageInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	result, err := s.service.PostMessage(r.Context(), caller, ficheID, body)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *HTTPServer) handleStaffSubmit(w http.ResponseWriter, r *http.Request, caller Caller) {
	var body struct {
		TargetID string     `json:"targetId"`
		Fiche    FicheInput `json:"fiche"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if body.TargetID == "" {
		body.TargetID = caller.Account.DiscordID
	}
	f, err := s.service.StaffSubmit(r.Context(), caller, body.TargetID, body.Fiche)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

func (s *HTTPServer) handleWhitelist(w http.ResponseWriter, r *http.Request, caller Caller) {
	whitelist, err := s.service.Whitelist(r.Context(), caller)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"whitelist": whitelist})
}

func (s *HTTPServer) handleAddWhitelist(w http.ResponseWriter, r *http.Request, caller Caller) {
	var body struct {
		DiscordID string `json:"discordId"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if err := s.service.AddWhitelist(r.Context(), caller, body.DiscordID); err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusNoContent, map[string]any{})
}

func (s *HTTPServer) handleRemoveWhitelist(w http.ResponseWriter, r *http.Request, caller Caller, discordID string) {
	if err := s.service.RemoveWhitelist(r.Context(), caller, discordID); err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusNoContent, map[string]any{})
}

func (s *HTTPServer) handleSetBan(w http.ResponseWriter, r *http.Request, caller Caller, banned bool) {
	var body struct {
		DiscordID string `json:"discordId"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if err := s.service.SetBan(r.Context(), caller, body.DiscordID, banned); err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusNoContent, map[string]any{})
}

// limited wraps a mutating handler with the per-account fixed-window rate
// limit.
func (s *HTTPServer) limited(w http.ResponseWriter, r *http.Request, caller Caller, next func(http.ResponseWriter, *http.Request, Caller)) {
	if !s.service.AllowMutation(caller.Account.DiscordID) {
		retryAfter := int(s.service.RetryAfter().Seconds())
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many submissions, slow down", map[string]any{
			"retryAfterSeconds": retryAfter,
		})
		return
	}
	next(w, r, caller)
}

func (s *HTTPServer) requireSession(r *http.Request) (Caller, error) {
	authID := bearerToken(r)
	if authID == "" {
		if cookie, err := r.Cookie("auth_id"); err == nil {
			authID = cookie.Value
		}
	}
	if authID == "" {
		return Caller{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
	}
	return s.service.CallerFromAuthID(r.Context(), authID)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, fiche.ErrNotAllowed) {
		return http.StatusForbidden, "FORBIDDEN", "Forbidden", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
