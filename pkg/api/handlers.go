package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/wilhg/snapstore/pkg/errmodel"
	"github.com/wilhg/snapstore/pkg/store"
)

type latestResponse struct {
	Data json.RawMessage `json:"data"`
}

type appendRequest struct {
	Data json.RawMessage `json:"data"`
}

type successResponse struct {
	Success bool `json:"success"`
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	data, err := s.store.Latest(r.Context())
	if err != nil {
		s.fail(w, r, "read latest snapshot", err)
		return
	}
	if store.IsEmptyDocument(data) {
		data = store.EmptyDocument
	}
	writeJSON(w, http.StatusOK, latestResponse{Data: data})
}

func (s *Server) handleAppend(w http.ResponseWriter, r *http.Request) {
	data, err := s.decodeAppend(w, r)
	if err != nil {
		s.fail(w, r, "decode snapshot", err)
		return
	}
	if err := s.store.Append(r.Context(), data); err != nil {
		s.fail(w, r, "append snapshot", err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Clear(r.Context()); err != nil {
		s.fail(w, r, "clear snapshots", err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if p, ok := s.store.(store.Pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			s.fail(w, r, "health check", err)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// decodeAppend extracts the "data" member of the request body.
// An empty body, a non-object body or a missing member yields nil, which the
// store rejects as a NOT NULL violation.
func (s *Server) decodeAppend(w http.ResponseWriter, r *http.Request) (json.RawMessage, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.bodyLimit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, errmodel.Validation("too_large", "Request entity too large", map[string]any{"limit": tooLarge.Limit})
		}
		return nil, errmodel.Validation("bad_body", "Invalid request body", nil)
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}
	if !json.Valid(body) {
		return nil, errmodel.Validation("bad_json", "Invalid JSON", nil)
	}
	if body[0] != '{' {
		return nil, nil
	}
	var req appendRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, errmodel.Validation("bad_json", "Invalid JSON", nil)
	}
	return req.Data, nil
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	ce := errmodel.From(err)
	level := slog.LevelWarn
	if errmodel.HTTPStatus(ce) >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	s.logger.LogAttrs(r.Context(), level, op+" failed",
		slog.String("category", ce.Category),
		slog.String("code", ce.Code),
		slog.Any("error", err),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)
	errmodel.WriteHTTP(w, r, ce)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
