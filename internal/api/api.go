// Package api exposes the practice engine over a small JSON HTTP surface.
//
// The handlers are thin: they decode requests, call into the session manager,
// round recorder, summary aggregator, and prompt generator, and map the typed
// domain errors onto HTTP status codes. All request-scoped observability
// (spans, correlation ids, latency metrics) comes from the observe middleware
// wrapped around the mux in main.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/parlano/parlano/internal/model"
	"github.com/parlano/parlano/internal/prompt"
	"github.com/parlano/parlano/internal/round"
	"github.com/parlano/parlano/internal/session"
)

// maxBodyBytes caps request bodies. Submissions carry an audio reference, not
// the audio itself, so requests are small.
const maxBodyBytes = 1 << 20

// Server holds the handlers for the practice API.
type Server struct {
	manager    *session.Manager
	aggregator *session.Aggregator
	recorder   *round.Recorder
	analyzer   *round.Analyzer
	prompts    *prompt.Generator
}

// New creates the API server around the engine components.
func New(manager *session.Manager, aggregator *session.Aggregator, recorder *round.Recorder, analyzer *round.Analyzer, prompts *prompt.Generator) *Server {
	return &Server{
		manager:    manager,
		aggregator: aggregator,
		recorder:   recorder,
		analyzer:   analyzer,
		prompts:    prompts,
	}
}

// Register adds all practice routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/sessions", s.createSession)
	mux.HandleFunc("GET /v1/sessions/{id}", s.getSession)
	mux.HandleFunc("GET /v1/sessions/{id}/prompts/{round}", s.getPrompt)
	mux.HandleFunc("POST /v1/sessions/{id}/rounds", s.submitRound)
	mux.HandleFunc("POST /v1/sessions/{id}/summary", s.summarize)
	mux.HandleFunc("POST /v1/sessions/{id}/reanalyze", s.reanalyze)
	mux.HandleFunc("GET /v1/rounds/{id}", s.getRound)
}

// ── Wire types ────────────────────────────────────────────────────────────────

type createSessionRequest struct {
	LearnerID string `json:"learner_id"`
	Level     int    `json:"level"`
	Mode      string `json:"mode,omitempty"`
}

type sessionResponse struct {
	ID           string          `json:"id"`
	LearnerID    string          `json:"learner_id"`
	Level        int             `json:"level"`
	Mode         string          `json:"mode"`
	Status       string          `json:"status"`
	TotalScore   int             `json:"total_score"`
	AverageScore int             `json:"average_score"`
	Summary      *model.Summary  `json:"summary,omitempty"`
	Rounds       []roundResponse `json:"rounds,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

type submitRoundRequest struct {
	RoundNumber int    `json:"round_number"`
	AudioRef    string `json:"audio_ref"`
	TimeTakenMS int64  `json:"time_taken_ms"`
	Prompt      string `json:"prompt,omitempty"`
}

type roundResponse struct {
	ID          string          `json:"id"`
	SessionID   string          `json:"session_id"`
	RoundNumber int             `json:"round_number"`
	Prompt      string          `json:"prompt"`
	Topic       string          `json:"topic,omitempty"`
	AudioRef    string          `json:"audio_ref"`
	TimeTakenMS int64           `json:"time_taken_ms"`
	Pending     bool            `json:"pending"`
	Score       int             `json:"score"`
	Transcript  string          `json:"transcript,omitempty"`
	Analysis    *model.Analysis `json:"analysis,omitempty"`
}

type promptResponse struct {
	Text  string `json:"text"`
	Topic string `json:"topic,omitempty"`
	Tier  string `json:"tier"`
}

type reanalyzeResponse struct {
	RoundsReanalyzed int `json:"rounds_reanalyzed"`
}

type errorResponse struct {
	Error string `json:"error"`

	// ConflictSessionID points at the existing active session on a 409.
	ConflictSessionID string `json:"conflict_session_id,omitempty"`
}

func toSessionResponse(sess *model.Session, rounds []model.Round) sessionResponse {
	resp := sessionResponse{
		ID:           sess.ID,
		LearnerID:    sess.LearnerID,
		Level:        sess.Level,
		Mode:         string(sess.Mode),
		Status:       string(sess.Status),
		TotalScore:   sess.TotalScore,
		AverageScore: sess.AverageScore,
		Summary:      sess.Summary,
		CreatedAt:    sess.CreatedAt,
		CompletedAt:  sess.CompletedAt,
	}
	for i := range rounds {
		resp.Rounds = append(resp.Rounds, toRoundResponse(&rounds[i]))
	}
	return resp
}

func toRoundResponse(r *model.Round) roundResponse {
	resp := roundResponse{
		ID:          r.ID,
		SessionID:   r.SessionID,
		RoundNumber: r.RoundNumber,
		Prompt:      r.Prompt,
		Topic:       r.Topic,
		AudioRef:    r.AudioRef,
		TimeTakenMS: r.TimeTaken.Milliseconds(),
		Pending:     r.Pending(),
		Score:       r.Score,
		Analysis:    r.Analysis,
	}
	if r.Transcript != nil {
		resp.Transcript = r.Transcript.Text
	}
	return resp
}

// ── Handlers ──────────────────────────────────────────────────────────────────

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	sess, err := s.manager.CreateSession(r.Context(), req.LearnerID, req.Level, model.SessionMode(req.Mode))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionResponse(sess, nil))
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, rounds, err := s.manager.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(sess, rounds))
}

func (s *Server) getPrompt(w http.ResponseWriter, r *http.Request) {
	roundNumber, err := strconv.Atoi(r.PathValue("round"))
	if err != nil || roundNumber < 1 || roundNumber > model.RoundsPerSession {
		writeError(w, &model.ValidationError{
			Field:  "round",
			Reason: "must be a round number between 1 and " + strconv.Itoa(model.RoundsPerSession),
		})
		return
	}

	sess, _, err := s.manager.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	p := s.prompts.GetPrompt(r.Context(), prompt.Request{
		LearnerID:   sess.LearnerID,
		SessionID:   sess.ID,
		Level:       sess.Level,
		RoundNumber: roundNumber,
		Mode:        sess.Mode,
	})
	writeJSON(w, http.StatusOK, promptResponse{Text: p.Text, Topic: p.Topic, Tier: string(p.Tier)})
}

func (s *Server) submitRound(w http.ResponseWriter, r *http.Request) {
	var req submitRoundRequest
	if !decodeBody(w, r, &req) {
		return
	}

	rec, err := s.recorder.Submit(r.Context(), round.SubmitRequest{
		SessionID:   r.PathValue("id"),
		RoundNumber: req.RoundNumber,
		AudioRef:    req.AudioRef,
		TimeTaken:   time.Duration(req.TimeTakenMS) * time.Millisecond,
		Prompt:      req.Prompt,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, toRoundResponse(rec))
}

func (s *Server) summarize(w http.ResponseWriter, r *http.Request) {
	sess, err := s.aggregator.Summarize(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(sess, nil))
}

func (s *Server) reanalyze(w http.ResponseWriter, r *http.Request) {
	n, err := s.analyzer.ReanalyzeSession(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reanalyzeResponse{RoundsReanalyzed: n})
}

func (s *Server) getRound(w http.ResponseWriter, r *http.Request) {
	rec, err := s.recorder.GetRound(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRoundResponse(rec))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// decodeBody decodes the request body into v, writing a 400 and returning
// false on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body: " + err.Error()})
		return false
	}
	return true
}

// writeError maps the domain error taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	var conflict *model.SessionConflictError
	switch {
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, errorResponse{
			Error:             conflict.Error(),
			ConflictSessionID: conflict.ExistingSessionID,
		})
	case model.IsValidation(err):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, model.ErrSessionNotFound), errors.Is(err, model.ErrRoundNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	default:
		slog.Error("request failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding response failed", "err", err)
	}
}
