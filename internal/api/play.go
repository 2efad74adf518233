package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/coder/websocket"

	"github.com/MrWong99/foglamp/internal/narrator"
	"github.com/MrWong99/foglamp/internal/observe"
	"github.com/MrWong99/foglamp/internal/turn"
	"github.com/MrWong99/foglamp/pkg/memory"
	"github.com/MrWong99/foglamp/pkg/world"
)

// PlayRequest is the body of POST /play and the first websocket message on
// /play/stream.
type PlayRequest struct {
	Command           string          `json:"command"`
	PlayerID          string          `json:"player_id,omitempty"`
	CurrentLocationID string          `json:"current_location_id,omitempty"`
	Turn              *int            `json:"turn,omitempty"`
	Snapshot          *world.Snapshot `json:"snapshot,omitempty"`
}

// StreamFrame is one websocket message sent on /play/stream.
type StreamFrame struct {
	Type        string   `json:"type"`
	Content     string   `json:"content,omitempty"`
	NextActions []string `json:"next_actions,omitempty"`
	Message     string   `json:"message,omitempty"`
	Kind        string   `json:"kind,omitempty"`
}

// Stream frame types, in the order a successful stream sends them.
const (
	FrameChunk    = "chunk"
	FrameMetadata = "metadata"
	FrameDone     = "done"
	FrameError    = "error"
)

// snapshot returns the world snapshot for the request. Without one the
// player is all that is known. A location in the request wins over the
// snapshot's.
func (req *PlayRequest) snapshot() *world.Snapshot {
	playerID := req.PlayerID
	if playerID == "" {
		playerID = DefaultPlayerID
	}
	snap := req.Snapshot
	if snap == nil {
		snap = &world.Snapshot{}
	}
	if snap.Player == nil {
		snap.Player = &world.Player{}
	}
	if snap.Player.ID == "" {
		snap.Player.ID = playerID
	}
	if req.CurrentLocationID != "" {
		snap.Player.CurrentLocationID = req.CurrentLocationID
	}
	return snap
}

// turnID returns the requested turn, or one past the player's latest event.
func (s *Server) turnID(ctx context.Context, req *PlayRequest, playerID string) (int, error) {
	if req.Turn != nil {
		return *req.Turn, nil
	}
	evs, err := s.app.Events().EventsByPlayer(ctx, playerID, 1)
	if err != nil && !errors.Is(err, memory.ErrNotFound) {
		return 0, err
	}
	if len(evs) == 0 {
		return 0, nil
	}
	return evs[0].Turn + 1, nil
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	var req PlayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return
	}
	if req.Command == "" {
		badRequest(w, "command is required")
		return
	}
	snap := req.snapshot()
	id, err := s.turnID(r.Context(), &req, snap.PlayerID())
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := s.app.Turns().RunTurn(r.Context(), req.Command, snap, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handlePlayStream upgrades to a websocket, reads one PlayRequest and
// streams the narration as chunk frames. The socket is closed after the
// done or error frame. A client that disconnects mid-stream cancels the
// turn and nothing is persisted.
func (s *Server) handlePlayStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		observe.Logger(r.Context()).Warn("api: websocket accept", "err", err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	log := observe.Logger(ctx)

	_, data, err := conn.Read(ctx)
	if err != nil {
		log.Debug("api: stream closed before request", "err", err)
		return
	}
	var req PlayRequest
	if err := json.Unmarshal(data, &req); err != nil {
		_ = sendFrame(ctx, conn, StreamFrame{Type: FrameError, Message: "invalid request: " + err.Error()})
		conn.Close(websocket.StatusUnsupportedData, "invalid request")
		return
	}
	if req.Command == "" {
		_ = sendFrame(ctx, conn, StreamFrame{Type: FrameError, Message: "command is required"})
		conn.Close(websocket.StatusPolicyViolation, "command is required")
		return
	}

	// Reads are only used to notice the client going away.
	ctx = conn.CloseRead(ctx)

	snap := req.snapshot()
	id, err := s.turnID(ctx, &req, snap.PlayerID())
	if err != nil {
		s.streamError(ctx, conn, err)
		return
	}

	res, err := s.app.Turns().StreamTurn(ctx, req.Command, snap, id, func(delta string) error {
		return sendFrame(ctx, conn, StreamFrame{Type: FrameChunk, Content: delta})
	})
	if err != nil {
		s.streamError(ctx, conn, err)
		return
	}
	if err := s.finishStream(ctx, conn, res); err != nil {
		log.Debug("api: stream client gone", "err", err)
		return
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

func (s *Server) finishStream(ctx context.Context, conn *websocket.Conn, res *narrator.Result) error {
	if err := sendFrame(ctx, conn, StreamFrame{Type: FrameMetadata, NextActions: res.NextActions}); err != nil {
		return err
	}
	return sendFrame(ctx, conn, StreamFrame{Type: FrameDone})
}

func (s *Server) streamError(ctx context.Context, conn *websocket.Conn, err error) {
	kind := turn.KindOf(err)
	if kind == turn.KindCanceled {
		return
	}
	observe.Logger(ctx).Warn("api: stream turn failed", "kind", kind, "err", err)
	if sendFrame(ctx, conn, StreamFrame{Type: FrameError, Message: err.Error(), Kind: string(kind)}) == nil {
		conn.Close(websocket.StatusNormalClosure, string(kind))
	}
}

func sendFrame(ctx context.Context, conn *websocket.Conn, f StreamFrame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
