package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	m "github.com/go-chi/chi/v5/middleware"

	"autocmx/internal/config"
	"autocmx/internal/db"
	"autocmx/internal/ingest"
	"autocmx/internal/registry"
	"autocmx/internal/schemas"
)

// ClientReader is the read side of the observation store.
type ClientReader interface {
	ListByTest(ctx context.Context, testID string) ([]db.Client, error)
	FindByMacAndTest(ctx context.Context, mac, testID string) (db.Client, error)
}

type Server struct {
	Tests   *registry.Registry
	Clients ClientReader
	Ingest  *ingest.Service
	Logger  *slog.Logger
	Config  config.Config
}

func NewServer(s *Server) *http.Server {
	return &http.Server{
		Addr:              s.Config.ListenAddr(),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(m.RequestID, m.RealIP, m.Logger, m.Recoverer)

	// CMX servers post here and read the validator back.
	r.Post("/data/{id}", s.ingestPost)
	r.Get("/data/{id}", s.validator)

	r.Group(func(r chi.Router) {
		r.Use(RequireAdmin(s.Config.Admin, s.Logger))
		r.Get("/tests", s.listTests)
		r.Post("/tests", s.createTest)
		r.Get("/tests/{id}", s.getTest)
		r.Put("/tests/{id}", s.updateTest)
		r.Delete("/tests/{id}", s.deleteTest)
		r.Post("/tests/{id}/complete", s.completeTest)
		r.Get("/tests/{id}/clients", s.listClients)
		r.Get("/tests/{id}/clients/{mac}", s.getClient)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := s.Tests.Ping(r.Context()); err != nil {
			s.Logger.Error("health check", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "db error"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

var errNotFound = schemas.ErrResp{Error: "not found"}

// writeError maps repository and validation errors to a status code.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *registry.ValidationError
	switch {
	case errors.As(err, &verr):
		fields := make(map[string]string, len(verr.Fields))
		for name, ferr := range verr.Fields {
			fields[name] = ferr.Error()
		}
		writeJSON(w, http.StatusUnprocessableEntity, schemas.ErrResp{Error: "validation failed", Fields: fields})
	case errors.Is(err, db.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errNotFound)
	default:
		s.Logger.Error("request failed", "path", r.URL.Path, "request_id", m.GetReqID(r.Context()), "error", err)
		writeJSON(w, http.StatusInternalServerError, schemas.ErrResp{Error: "internal error"})
	}
}

func ingestStatus(state db.State) int {
	switch state {
	case db.StateComplete:
		return http.StatusOK
	case db.StateBadSecret:
		return http.StatusForbidden
	default:
		return http.StatusBadRequest
	}
}

func (s *Server) ingestPost(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	raw, ok := ingest.ExtractPayload(r)

	res, err := s.Ingest.Ingest(r.Context(), id, raw, ok)
	if errors.Is(err, ingest.ErrTestNotFound) {
		writeJSON(w, http.StatusNotFound, errNotFound)
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, ingestStatus(res.State), schemas.IngestResp{State: res.State, Observations: res.Observations})
}

func (s *Server) validator(w http.ResponseWriter, r *http.Request) {
	t, err := s.Tests.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(t.Validator))
}

func (s *Server) listTests(w http.ResponseWriter, r *http.Request) {
	ts, err := s.Tests.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, schemas.NewTestList(ts))
}

func decodeInput(w http.ResponseWriter, r *http.Request) (registry.TestInput, bool) {
	var in registry.TestInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, schemas.ErrResp{Error: err.Error()})
		return in, false
	}
	return in, true
}

func (s *Server) createTest(w http.ResponseWriter, r *http.Request) {
	in, ok := decodeInput(w, r)
	if !ok {
		return
	}
	t, err := s.Tests.Create(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.Logger.Info("created test", "test", t.ID, "name", t.Name)
	writeJSON(w, http.StatusCreated, schemas.NewTestOut(t))
}

func (s *Server) getTest(w http.ResponseWriter, r *http.Request) {
	t, err := s.Tests.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, schemas.NewTestOut(t))
}

func (s *Server) updateTest(w http.ResponseWriter, r *http.Request) {
	in, ok := decodeInput(w, r)
	if !ok {
		return
	}
	t, err := s.Tests.Update(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, schemas.NewTestOut(t))
}

func (s *Server) deleteTest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.Tests.Delete(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.Logger.Info("deleted test", "test", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) completeTest(w http.ResponseWriter, r *http.Request) {
	t, err := s.Tests.MarkComplete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, schemas.NewTestOut(t))
}

func (s *Server) listClients(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.Tests.Get(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	cs, err := s.Clients.ListByTest(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, schemas.NewClientList(cs))
}

func (s *Server) getClient(w http.ResponseWriter, r *http.Request) {
	c, err := s.Clients.FindByMacAndTest(r.Context(), chi.URLParam(r, "mac"), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, schemas.NewClientOut(c))
}
