package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"libraryweb/internal/app"
	"libraryweb/internal/token"
	"libraryweb/pkg/domain"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	Tokens         *token.Issuer
	MaxUploadBytes int64
}

// Server exposes the HTTP endpoints of the library service.
type Server struct {
	app            *app.App
	tokens         *token.Issuer
	mux            *http.ServeMux
	maxUploadBytes int64
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = 10 * 1024 * 1024
	}
	s := &Server{
		app:            cfg.App,
		tokens:         cfg.Tokens,
		mux:            http.NewServeMux(),
		maxUploadBytes: maxUploadBytes,
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return withRequestLog(s.mux)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	s.mux.HandleFunc("/readers", s.handleRegister)
	s.mux.HandleFunc("/login", s.handleLogin)
	s.mux.Handle("/readers/me", s.withReader(s.handleMe))
	s.mux.Handle("/readers/", s.withEmployee(s.handleReaderByID))

	s.mux.Handle("/books", s.withReader(s.handleBooks))
	s.mux.Handle("/books/", s.withReader(s.handleBookByID))

	s.mux.Handle("/requests", s.withReader(s.handleRequests))
	s.mux.Handle("/requests/", s.withReader(s.handleRequestByID))

	s.mux.Handle("/loans", s.withEmployee(s.handleLoans))
	s.mux.Handle("/loans/", s.withEmployee(s.handleLoanByID))

	s.mux.Handle("/copies/", s.withEmployee(s.handleCopyBySerial))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type readerHandler func(http.ResponseWriter, *http.Request, token.Claims)

func (s *Server) withReader(next readerHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		claims, err := s.tokens.Verify(tok)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, claims)
	})
}

func (s *Server) withEmployee(next readerHandler) http.Handler {
	return s.withReader(func(w http.ResponseWriter, r *http.Request, claims token.Claims) {
		if !isStaff(claims) {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next(w, r, claims)
	})
}

func isStaff(claims token.Claims) bool {
	role := domain.ReaderRole(claims.Role)
	return role == domain.RoleEmployee || role == domain.RoleAdmin
}

// --- readers ---

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req struct {
		Email    string `json:"email"`
		Name     string `json:"name"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	reader, err := s.app.Register(req.Email, req.Name, req.Password)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, reader)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	tok, reader, err := s.app.Login(req.Email, req.Password)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": tok, "reader": reader})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, claims token.Claims) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	reader, err := s.app.GetReaderWithRequests(claims.Subject)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reader)
}

// POST /readers/{id}/verify
func (s *Server) handleReaderByID(w http.ResponseWriter, r *http.Request, _ token.Claims) {
	path := strings.TrimPrefix(r.URL.Path, "/readers/")
	parts := strings.SplitN(path, "/", 2)
	if parts[0] == "" || len(parts) != 2 || parts[1] != "verify" {
		notFound(w)
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if err := s.app.VerifyReader(parts[0]); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "verified"})
}

// --- books ---

func (s *Server) handleBooks(w http.ResponseWriter, r *http.Request, claims token.Claims) {
	switch r.Method {
	case http.MethodGet:
		books, total, err := s.app.ListBooks(pagination(r))
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": books, "total": total})
	case http.MethodPost:
		if !isStaff(claims) {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		var input app.BookInput
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		book, err := s.app.AddBook(input)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, book)
	default:
		methodNotAllowed(w)
	}
}

// /books/{id} or /books/{id}/cover
func (s *Server) handleBookByID(w http.ResponseWriter, r *http.Request, claims token.Claims) {
	path := strings.TrimPrefix(r.URL.Path, "/books/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		notFound(w)
		return
	}
	if len(parts) == 2 {
		if parts[1] == "cover" {
			s.handleCover(w, r, claims, id)
			return
		}
		notFound(w)
		return
	}
	switch r.Method {
	case http.MethodGet:
		book, err := s.app.GetBook(id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, book)
	case http.MethodPatch:
		if !isStaff(claims) {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		var input app.BookInput
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		book, err := s.app.UpdateBook(id, input)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, book)
	case http.MethodDelete:
		if !isStaff(claims) {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		if err := s.app.DeleteBook(id); err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleCover(w http.ResponseWriter, r *http.Request, claims token.Claims, id string) {
	switch r.Method {
	case http.MethodGet:
		url, err := s.app.CoverURL(r.Context(), id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"url": url})
	case http.MethodPut:
		if !isStaff(claims) {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		body := http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
		data, err := io.ReadAll(body)
		if err != nil {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		contentType := r.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		if err := s.app.UploadCover(r.Context(), id, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "uploaded"})
	default:
		methodNotAllowed(w)
	}
}

// --- requests ---

func (s *Server) handleRequests(w http.ResponseWriter, r *http.Request, claims token.Claims) {
	switch r.Method {
	case http.MethodPost:
		var req struct {
			BookID string `json:"bookId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		request, err := s.app.CreateRequest(claims.Subject, req.BookID)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, request)
	case http.MethodGet:
		if !isStaff(claims) {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		requests, total, err := s.app.ListRequests(pagination(r))
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": requests, "total": total})
	default:
		methodNotAllowed(w)
	}
}

// /requests/{id}, /requests/{id}/give, /requests/{id}/notify
func (s *Server) handleRequestByID(w http.ResponseWriter, r *http.Request, claims token.Claims) {
	path := strings.TrimPrefix(r.URL.Path, "/requests/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		notFound(w)
		return
	}
	if len(parts) == 2 {
		if r.Method != http.MethodPost || !isStaff(claims) {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		switch parts[1] {
		case "give":
			request, err := s.app.GiveBook(id)
			if err != nil {
				writeAppError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, request)
		case "notify":
			if err := s.app.Notify(id); err != nil {
				writeAppError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "notified"})
		default:
			notFound(w)
		}
		return
	}
	switch r.Method {
	case http.MethodPatch:
		if !isStaff(claims) {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		var req struct {
			Status domain.RequestStatus `json:"status"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		request, err := s.app.UpdateStatus(id, req.Status)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, request)
	case http.MethodDelete:
		request, err := s.app.Cancel(id, claims.Subject)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, request)
	default:
		methodNotAllowed(w)
	}
}

// --- loans ---

func (s *Server) handleLoans(w http.ResponseWriter, r *http.Request, _ token.Claims) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req struct {
		ReaderID string `json:"readerId"`
		BookID   string `json:"bookId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	loan, err := s.app.CreateLoan(req.ReaderID, req.BookID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, loan)
}

// /loans/overdue, /loans/{id}, /loans/{id}/return
func (s *Server) handleLoanByID(w http.ResponseWriter, r *http.Request, _ token.Claims) {
	path := strings.TrimPrefix(r.URL.Path, "/loans/")
	if path == "overdue" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		loans, total, err := s.app.OverdueLoans(pagination(r))
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": loans, "total": total})
		return
	}
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		notFound(w)
		return
	}
	if len(parts) == 2 {
		if parts[1] != "return" || r.Method != http.MethodPost {
			notFound(w)
			return
		}
		loan, err := s.app.SetLoanAsReturned(id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, loan)
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	loan, err := s.app.GetLoan(id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

// --- copies ---

// PATCH /copies/{serial} with {"status": "..."}
func (s *Server) handleCopyBySerial(w http.ResponseWriter, r *http.Request, _ token.Claims) {
	serial := strings.TrimPrefix(r.URL.Path, "/copies/")
	if serial == "" || strings.Contains(serial, "/") {
		notFound(w)
		return
	}
	if r.Method != http.MethodPatch {
		methodNotAllowed(w)
		return
	}
	var req struct {
		Status domain.CopyStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	c, err := s.app.ChangeCopyStatus(serial, req.Status)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// --- helpers ---

func pagination(r *http.Request) domain.Pagination {
	q := r.URL.Query()
	p := domain.Pagination{}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			p.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			p.Offset = n
		}
	}
	return p
}

// writeAppError maps domain errors to HTTP responses.
func writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrNotFound):
		writeErrorCode(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, app.ErrLimitExceeded):
		writeErrorCode(w, http.StatusUnprocessableEntity, "REQUEST_LIMIT_EXCEEDED", err.Error())
	case errors.Is(err, app.ErrConflict), errors.Is(err, app.ErrEmailAlreadyExists):
		writeErrorCode(w, http.StatusConflict, "CONFLICT", err.Error())
	case errors.Is(err, app.ErrInvalidTransition):
		writeErrorCode(w, http.StatusConflict, "INVALID_TRANSITION", err.Error())
	case errors.Is(err, app.ErrConsistencyViolation):
		writeErrorCode(w, http.StatusInternalServerError, "CONSISTENCY_VIOLATION", err.Error())
	case errors.Is(err, app.ErrInvalidCredentials):
		writeErrorCode(w, http.StatusUnauthorized, "AUTH_INVALID_CREDENTIALS", err.Error())
	default:
		slog.Error("internal error", "error", err)
		writeErrorCode(w, http.StatusInternalServerError, "SYSTEM_INTERNAL_ERROR", "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeErrorCode(w, status, codeForStatus(status), message)
}

func writeErrorCode(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": message, "code": code})
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "INVALID_REQUEST"
	case http.StatusUnauthorized:
		return "AUTH_INVALID_TOKEN"
	case http.StatusForbidden:
		return "FORBIDDEN"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	case http.StatusRequestEntityTooLarge:
		return "FILE_TOO_LARGE"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}

func notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	tok := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if tok == "" {
		return "", false
	}
	return tok, true
}

// withRequestLog logs method, path, and duration for each request.
func withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Info("http request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
