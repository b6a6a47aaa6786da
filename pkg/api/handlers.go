package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/fabiosalasm-zz/uy-home-finder/pkg/models"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/utils"
)

type errorResponse struct {
	Error    string `json:"error"`
	Category string `json:"category,omitempty"`
}

type listingsResponse struct {
	Source   string            `json:"source"`
	Count    int               `json:"count"`
	Listings []*models.Listing `json:"listings"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleImport runs a synchronous import: GET /rental/import?from=all|<alias>
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	aliases, ok := s.resolve(w, r)
	if !ok {
		return
	}
	if s.jobs.IsRunning(joinAliases(aliases)) {
		s.writeError(w, http.StatusConflict, errors.New("an import of these sources is already running"))
		return
	}

	summary, err := s.cfg.Importer.Run(r.Context(), aliases, s.cfg.StoreMode)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

// handleStartImport starts a background import: POST /imports?from=...
func (s *Server) handleStartImport(w http.ResponseWriter, r *http.Request) {
	aliases, ok := s.resolve(w, r)
	if !ok {
		return
	}

	job, created := s.startJob(aliases)
	status := http.StatusAccepted
	if !created {
		status = http.StatusConflict
	}
	w.Header().Set("Location", "/imports/"+job.ID)
	s.writeJSON(w, status, job)
}

func (s *Server) handleListImports(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.jobs.ListJobs())
}

func (s *Server) handleGetImport(w http.ResponseWriter, r *http.Request) {
	job, ok := s.jobs.GetJob(mux.Vars(r)["id"])
	if !ok {
		s.writeError(w, http.StatusNotFound, errors.New("job not found"))
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancelImport(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, ok := s.jobs.GetJob(id); !ok {
		s.writeError(w, http.StatusNotFound, errors.New("job not found"))
		return
	}
	if !s.jobs.CancelJob(id) {
		s.writeError(w, http.StatusConflict, errors.New("job is not running"))
		return
	}
	job, _ := s.jobs.GetJob(id)
	s.writeJSON(w, http.StatusOK, job)
}

// handleListings returns the stored listings of one source: GET /listings/{source}
func (s *Server) handleListings(w http.ResponseWriter, r *http.Request) {
	alias := strings.ToLower(mux.Vars(r)["source"])
	aliases, err := s.cfg.Resolve(alias)
	if err != nil || len(aliases) != 1 {
		if err == nil {
			err = utils.WrapErrorf(utils.ErrUnknownSource, "'%s' does not name a single source", alias)
		}
		s.writeError(w, http.StatusNotFound, err)
		return
	}

	listings, err := s.cfg.Store.ListBySource(r.Context(), aliases[0])
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if listings == nil {
		listings = []*models.Listing{}
	}
	s.writeJSON(w, http.StatusOK, listingsResponse{Source: aliases[0], Count: len(listings), Listings: listings})
}

// resolve reads the "from" query parameter; it writes the error response itself.
func (s *Server) resolve(w http.ResponseWriter, r *http.Request) ([]string, bool) {
	from := r.URL.Query().Get("from")
	if strings.TrimSpace(from) == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("missing 'from' query parameter"))
		return nil, false
	}
	aliases, err := s.cfg.Resolve(from)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return nil, false
	}
	if len(aliases) == 0 {
		s.writeError(w, http.StatusBadRequest, errors.New("no enabled sources to import"))
		return nil, false
	}
	return aliases, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, utils.ErrUnknownSource), errors.Is(err, utils.ErrConfigValidation):
		return http.StatusBadRequest
	case errors.Is(err, utils.ErrRunLocked):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warnf("Failed to encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, errorResponse{Error: err.Error(), Category: categoryOf(err)})
}

func categoryOf(err error) string {
	if c := utils.CategorizeError(err); c != "Unknown" {
		return c
	}
	return ""
}

// statusRecorder captures the response status for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start).Round(time.Millisecond),
		}).Debug("HTTP request")
	})
}
