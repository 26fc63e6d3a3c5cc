package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	hwcerrors "hwc-server/internal/errors"
	"hwc-server/internal/logger"
	"hwc-server/internal/model"
)

// RequestIDHeader carries the request id in both directions
const RequestIDHeader = "X-Request-ID"

type requestIDKey struct{}

// RequestID returns the id assigned to the request
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      int    `json:"code"`
	RequestID string `json:"requestId"`
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		start := s.now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
		logger.LogTrace("HTTP %s %s -> %d (%v) [%s]", r.Method, r.URL.Path, sw.status, s.now().Sub(start), id)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.LogWarn("Failed to encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := hwcerrors.HTTPStatus(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		s.log.LogError("%s %s failed: %v", r.Method, r.URL.Path, err)
		msg = http.StatusText(status)
	} else {
		s.log.LogWarn("%s %s rejected: %v", r.Method, r.URL.Path, err)
	}
	writeJSON(w, status, ErrorResponse{
		Error:     msg,
		Code:      hwcerrors.GetDiagnosticCode(err),
		RequestID: RequestID(r.Context()),
	})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, ErrorResponse{
		Error:     "not found",
		Code:      hwcerrors.CodeGeneric,
		RequestID: RequestID(r.Context()),
	})
}

type about struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

func (s *Server) handleAbout(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, about{Name: Name, Version: s.deps.Version})
}

// handleMonitor returns the last monitor record. Query parameters, if any,
// are telemetry and are passed to the controller as smart mode values.
func (s *Server) handleMonitor(w http.ResponseWriter, r *http.Request) {
	if q := r.URL.Query(); len(q) > 0 {
		v, err := model.SmartModeValuesFromQuery(q, s.now())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := s.deps.Controller.SetSmartModeValues(v); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	records := []*model.MonitorRecord{}
	if rec := s.deps.Monitor.LastRecord(); rec != nil {
		records = append(records, rec)
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleControllerStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Controller.Status())
}

func (s *Server) handleControllerParameter(w http.ResponseWriter, r *http.Request) {
	var req model.PinRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, r, hwcerrors.InvalidArgument("invalid request body: %v", err))
		return
	}
	if err := s.deps.Auth.Check(req.Pin); err != nil {
		s.writeError(w, r, err)
		return
	}

	p := req.Effective()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = model.At(s.now())
	}
	if p.From == "" {
		p.From = "POST /controller/parameter"
	}
	s.log.LogInfo("Controller parameter from %s: mode=%s desired=%.0fW", p.From, p.Mode, p.DesiredWatts)

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	status, err := s.deps.Controller.SetParameter(ctx, p)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}
