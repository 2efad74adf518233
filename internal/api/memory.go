package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/MrWong99/foglamp/internal/recall"
	"github.com/MrWong99/foglamp/pkg/memory"
)

type searchResponse struct {
	Query   string         `json:"query"`
	Matches []recall.Match `json:"matches"`
}

type retrieveResponse struct {
	Query   string `json:"query"`
	Context string `json:"context"`
}

func (s *Server) handleMemorySearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		badRequest(w, "q is required")
		return
	}
	matches, err := s.app.Retriever().Search(r.Context(), q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if matches == nil {
		matches = []recall.Match{}
	}
	writeJSON(w, http.StatusOK, searchResponse{Query: q, Matches: matches})
}

func (s *Server) handleMemoryRetrieve(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		badRequest(w, "q is required")
		return
	}
	ctx, err := s.app.Retriever().Retrieve(r.Context(), q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, retrieveResponse{Query: q, Context: ctx})
}

func (s *Server) handlePromoteFact(w http.ResponseWriter, r *http.Request) {
	var f recall.Fact
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return
	}
	if f.Text == "" {
		badRequest(w, "text is required")
		return
	}
	doc, err := s.app.Curator().Promote(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleMarkStale(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		badRequest(w, "id must be an integer")
		return
	}
	if err := s.app.Curator().MarkStale(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type playerTurnsResponse struct {
	PlayerID string             `json:"player_id"`
	Count    int                `json:"count"`
	Events   []memory.TurnEvent `json:"events"`
}

func (s *Server) handleLatestTurn(w http.ResponseWriter, r *http.Request) {
	ev, err := s.app.Events().LatestEvent(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handlePlayerTurns(w http.ResponseWriter, r *http.Request) {
	playerID := r.PathValue("player_id")
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			badRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	evs, err := s.app.Events().EventsByPlayer(r.Context(), playerID, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if evs == nil {
		evs = []memory.TurnEvent{}
	}
	writeJSON(w, http.StatusOK, playerTurnsResponse{PlayerID: playerID, Count: len(evs), Events: evs})
}
