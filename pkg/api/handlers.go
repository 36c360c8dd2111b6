package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/cuemby/granary/pkg/apierr"
	"github.com/cuemby/granary/pkg/types"
)

// writeJSON renders a JSON response.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError renders the upstream-compatible error envelope with the mapped
// status code.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, apierr.Status(err), apierr.Envelope(err))
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.KindInvalidRequest, "failed to read publish payload", err))
		return
	}
	result, err := s.registry.Publish(r.Context(), principal(r), payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	perPage := 10
	if raw := r.URL.Query().Get("per_page"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 100 {
			writeError(w, apierr.InvalidRequest("per_page must be an integer between 1 and 100"))
			return
		}
		perPage = parsed
	}

	results, err := s.registry.Search(r.URL.Query().Get("q"), perPage)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleCrateInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.registry.Info(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleVersions(w http.ResponseWriter, r *http.Request) {
	records, err := s.registry.IndexVersions(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	if records == nil {
		records = []types.IndexRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	target, err := s.registry.DownloadURL(chi.URLParam(r, "name"), chi.URLParam(r, "version"))
	if err != nil {
		writeError(w, err)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (s *Server) handleYank(w http.ResponseWriter, r *http.Request) {
	s.setYanked(w, r, true)
}

func (s *Server) handleUnyank(w http.ResponseWriter, r *http.Request) {
	s.setYanked(w, r, false)
}

func (s *Server) setYanked(w http.ResponseWriter, r *http.Request, yanked bool) {
	caller := principal(r)
	if err := requireWrite(caller); err != nil {
		writeError(w, err)
		return
	}
	result, err := s.registry.SetYanked(r.Context(), caller,
		chi.URLParam(r, "name"), chi.URLParam(r, "version"), yanked)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleOwnersList(w http.ResponseWriter, r *http.Request) {
	owners, err := s.registry.Owners(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, owners)
}

func (s *Server) handleOwnersAdd(w http.ResponseWriter, r *http.Request) {
	var query types.OwnersChangeQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		writeError(w, apierr.InvalidRequest("owners payload is not valid JSON"))
		return
	}
	result, err := s.registry.AddOwners(principal(r), chi.URLParam(r, "name"), query.Users)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleOwnersRemove(w http.ResponseWriter, r *http.Request) {
	var query types.OwnersChangeQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		writeError(w, apierr.InvalidRequest("owners payload is not valid JSON"))
		return
	}
	result, err := s.registry.RemoveOwners(principal(r), chi.URLParam(r, "name"), query.Users)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
