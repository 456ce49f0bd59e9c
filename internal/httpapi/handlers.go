package httpapi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"

	"github.com/petrijr/chatflow/pkg/api"
)

type errorResponse struct {
	Error string `json:"error"`
}

type taskResponse struct {
	TaskID      string `json:"taskId"`
	ExecutionID string `json:"executionId"`
}

type resumeRequest struct {
	Type api.ResumeType `json:"type"`
	Data any            `json:"data,omitempty"`
}

type activeExecution struct {
	ExecutionID   string     `json:"executionId"`
	FlowID        string     `json:"flowId"`
	Status        api.Status `json:"status"`
	CurrentNodeID string     `json:"currentNodeId,omitempty"`
	Steps         int        `json:"steps"`
	StartedAt     time.Time  `json:"startedAt"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRegisterFlow(w http.ResponseWriter, r *http.Request) {
	var graph api.GraphDefinition
	if !s.decode(w, r, &graph) {
		return
	}
	if err := s.engine.RegisterFlow(graph); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusCreated, map[string]string{"id": graph.ID})
}

func (s *Server) handleStartExecution(w http.ResponseWriter, r *http.Request) {
	flowID := chi.URLParam(r, "flowID")
	graph, err := s.engine.Flow(r.Context(), flowID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var init api.InitialContext
	if !s.decodeOptional(w, r, &init) {
		return
	}

	// The run outlives a client that hangs up; its own budget bounds it.
	exec, err := s.engine.ExecuteFlow(context.WithoutCancel(r.Context()), graph, init)
	s.writeExecution(w, r, http.StatusCreated, exec, err)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	var req resumeRequest
	if !s.decode(w, r, &req) {
		return
	}
	ev := api.ResumeEvent{
		FlowID:      chi.URLParam(r, "flowID"),
		ExecutionID: chi.URLParam(r, "executionID"),
		Type:        req.Type,
		Data:        req.Data,
	}
	if !ev.Type.Valid() {
		s.writeError(w, r, api.ErrInvalidResume)
		return
	}

	if s.queue != nil {
		id, err := s.queue.EnqueueResume(r.Context(), ev)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, r, http.StatusAccepted, taskResponse{TaskID: id, ExecutionID: ev.ExecutionID})
		return
	}

	exec, err := s.engine.Resume(context.WithoutCancel(r.Context()), ev)
	s.writeExecution(w, r, http.StatusOK, exec, err)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "executionID")
	if s.queue != nil {
		taskID, err := s.queue.EnqueueStop(r.Context(), id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, r, http.StatusAccepted, taskResponse{TaskID: taskID, ExecutionID: id})
		return
	}
	if err := s.engine.StopExecution(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := s.engine.GetExecution(r.Context(), chi.URLParam(r, "executionID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, exec)
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.events.ListEvents(r.Context(), chi.URLParam(r, "executionID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if events == nil {
		events = []api.Event{}
	}
	s.writeJSON(w, r, http.StatusOK, events)
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := api.ExecutionFilter{
		FlowID: q.Get("flowId"),
		Status: api.Status(q.Get("status")),
	}
	execs, err := s.engine.ListExecutions(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if execs == nil {
		execs = []*api.FlowExecution{}
	}
	s.writeJSON(w, r, http.StatusOK, execs)
}

func (s *Server) handleActiveExecutions(w http.ResponseWriter, r *http.Request) {
	active := s.engine.ActiveExecutions()
	out := make([]activeExecution, 0, len(active))
	for _, a := range active {
		out = append(out, activeExecution{
			ExecutionID:   a.ExecutionID,
			FlowID:        a.FlowID,
			Status:        a.Status,
			CurrentNodeID: a.CurrentNodeID,
			Steps:         a.Steps,
			StartedAt:     a.StartedAt,
		})
	}
	s.writeJSON(w, r, http.StatusOK, out)
}

// writeExecution answers with the execution whenever the engine produced
// one. A run that ended in error is still a processed request; its status
// and error are in the body.
func (s *Server) writeExecution(w http.ResponseWriter, r *http.Request, status int, exec *api.FlowExecution, err error) {
	if exec == nil {
		if err == nil {
			err = errors.New("engine returned no execution")
		}
		s.writeError(w, r, err)
		return
	}
	if err != nil {
		s.logger.DebugContext(r.Context(), "execution_failed",
			slog.String("execution_id", exec.ID),
			slog.Any("error", err),
		)
	}
	s.writeJSON(w, r, status, exec)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body, ok := s.readBody(w, r)
	if !ok {
		return false
	}
	if len(body) == 0 {
		s.writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: "request body is required"})
		return false
	}
	if err := sonic.Unmarshal(body, v); err != nil {
		s.writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: "invalid JSON: " + err.Error()})
		return false
	}
	return true
}

// decodeOptional accepts an empty body and leaves v untouched.
func (s *Server) decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	body, ok := s.readBody(w, r)
	if !ok {
		return false
	}
	if len(body) == 0 {
		return true
	}
	if err := sonic.Unmarshal(body, v); err != nil {
		s.writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: "invalid JSON: " + err.Error()})
		return false
	}
	return true
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeJSON(w, r, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large"})
			return nil, false
		}
		s.writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: "read body: " + err.Error()})
		return nil, false
	}
	return body, true
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request_failed",
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
	}
	s.writeJSON(w, r, status, errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	var graphErr *api.GraphError
	switch {
	case errors.As(err, &graphErr), errors.Is(err, api.ErrInvalidResume):
		return http.StatusBadRequest
	case errors.Is(err, api.ErrExecutionNotFound), errors.Is(err, api.ErrFlowNotFound):
		return http.StatusNotFound
	case errors.Is(err, api.ErrNotPaused), errors.Is(err, api.ErrFlowMismatch), errors.Is(err, api.ErrExecutionActive):
		return http.StatusConflict
	case errors.Is(err, api.ErrEngineShutdown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	payload, err := sonic.Marshal(v)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "response_encode_failed", slog.Any("error", err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}
