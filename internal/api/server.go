package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flitsinc/go-backlog/internal/backlog"
	"github.com/flitsinc/go-backlog/internal/engine"
	"github.com/flitsinc/go-backlog/internal/eventbus"
	"github.com/flitsinc/go-backlog/internal/idgen"
	"github.com/flitsinc/go-backlog/internal/render"
	"github.com/flitsinc/go-backlog/internal/state"
)

// Operations are the inbound backlog operations the API exposes.
type Operations interface {
	Submit(ctx context.Context, sub engine.Submission) (engine.SubmitResult, error)
	ChangeStatus(ctx context.Context, activityID, workspaceID, rawStatus string) (engine.ChangeResult, error)
	RebuildBoard(ctx context.Context, workspaceID string) (engine.BoardResult, error)
	MoveBoard(ctx context.Context, workspaceID, channelID string) (engine.BoardResult, error)
}

type Server struct {
	Engine       Operations
	Store        *state.Store
	Bus          *eventbus.Bus
	Auth         *Authenticator
	Restart      func() error
	RestartToken string
	StartedAt    time.Time
	Info         DiagnosticsInfo
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	ws := s.Auth.requireWorkspace

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/diagnostics", s.handleDiagnostics)
	mux.HandleFunc("GET /api/workspaces/{workspace}/activities", ws(s.handleListActivities))
	mux.HandleFunc("POST /api/workspaces/{workspace}/activities", ws(s.handleSubmit))
	mux.HandleFunc("GET /api/workspaces/{workspace}/activities/{id}", ws(s.handleGetActivity))
	mux.HandleFunc("POST /api/workspaces/{workspace}/activities/{id}/status", ws(s.handleChangeStatus))
	mux.HandleFunc("GET /api/workspaces/{workspace}/board", ws(s.handleGetBoard))
	mux.HandleFunc("POST /api/workspaces/{workspace}/board/rebuild", ws(s.handleRebuildBoard))
	mux.HandleFunc("POST /api/workspaces/{workspace}/board/move", ws(s.handleMoveBoard))
	mux.HandleFunc("GET /api/streams/ws", s.handleStreamWS)
	mux.HandleFunc("GET /api/streams/{stream}", s.handleStream)
	mux.HandleFunc("POST /api/admin/restart", s.handleRestart)
	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "time": time.Now().UTC()})
}

func (s *Server) handleListActivities(w http.ResponseWriter, r *http.Request) {
	items, err := s.Store.Activities().List(r.Context(), r.PathValue("workspace"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, err := backlog.ParseStatus(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		filtered := items[:0]
		for _, a := range items {
			if a.Status == status {
				filtered = append(filtered, a)
			}
		}
		items = filtered
	}
	if items == nil {
		items = []backlog.Activity{}
	}
	writeJSON(w, http.StatusOK, items)
}

type submitRequest struct {
	ChannelID        string `json:"channel_id"`
	AuthorID         string `json:"author_id"`
	AuthorLabel      string `json:"author_label"`
	Title            string `json:"title"`
	Description      string `json:"description"`
	Steps            string `json:"steps"`
	ExpectedVsActual string `json:"expected_vs_actual"`
	Context          string `json:"context"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := s.Engine.Submit(r.Context(), engine.Submission{
		WorkspaceID: r.PathValue("workspace"),
		ChannelID:   req.ChannelID,
		Author:      backlog.Author{ID: req.AuthorID, Label: req.AuthorLabel},
		Raw: backlog.RawFields{
			Title:            req.Title,
			Description:      req.Description,
			Steps:            req.Steps,
			ExpectedVsActual: req.ExpectedVsActual,
			Context:          req.Context,
		},
	})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleGetActivity(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := idgen.Validate(id); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	act, err := s.Store.Activities().Get(r.Context(), id, r.PathValue("workspace"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, act)
}

func (s *Server) handleChangeStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id := r.PathValue("id")
	if err := idgen.Validate(id); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := s.Engine.ChangeStatus(r.Context(), id, r.PathValue("workspace"), req.Status)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type boardResponse struct {
	WorkspaceID string         `json:"workspace_id"`
	Found       bool           `json:"found"`
	Board       backlog.Board  `json:"board"`
	Preview     render.Message `json:"preview"`
}

func (s *Server) handleGetBoard(w http.ResponseWriter, r *http.Request) {
	workspace := r.PathValue("workspace")
	board, found, err := s.Store.Boards().Get(r.Context(), workspace)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	acts, err := s.Store.Activities().List(r.Context(), workspace)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, boardResponse{WorkspaceID: workspace, Found: found, Board: board, Preview: render.Board(acts)})
}

func (s *Server) handleRebuildBoard(w http.ResponseWriter, r *http.Request) {
	res, err := s.Engine.RebuildBoard(r.Context(), r.PathValue("workspace"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleMoveBoard(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ChannelID string `json:"channel_id"`
	}
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := s.Engine.MoveBoard(r.Context(), r.PathValue("workspace"), req.ChannelID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.Bus == nil {
		writeError(w, http.StatusInternalServerError, errNotFound("stream bus"))
		return
	}
	workspace, code, err := s.Auth.scope(r)
	if err != nil {
		writeError(w, code, err)
		return
	}
	q := r.URL.Query()
	items, err := s.Bus.List(r.Context(), r.PathValue("stream"), eventbus.ListOptions{
		WorkspaceID: workspace,
		Limit:       parseInt(q.Get("limit"), 50),
		Order:       q.Get("order"),
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if items == nil {
		items = []eventbus.Event{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	if s.Restart == nil {
		writeError(w, http.StatusNotImplemented, errNotFound("restart"))
		return
	}
	if token := s.RestartToken; token != "" {
		header := r.Header.Get("X-Restart-Token")
		if header != token {
			writeError(w, http.StatusUnauthorized, errors.New("invalid restart token"))
			return
		}
	}
	if err := s.Restart(); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, backlog.ErrInvalidStatus), errors.Is(err, backlog.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, backlog.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, backlog.ErrSinkUnavailable):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(body io.Reader, dest any) error {
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dest)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func parseInt(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitComma(value string) []string {
	parts := strings.Split(value, ",")
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

type notFoundError struct {
	msg string
}

func (e notFoundError) Error() string { return e.msg }

func errNotFound(target string) error {
	return notFoundError{msg: target + " not found"}
}
