// Package ws is the realtime transport collaborator: it turns socket.io
// events into engine calls and implements the engine's broadcast contract.
// All broadcasts fire after the engine has released the room lock.
package ws

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	socketio "github.com/googollee/go-socket.io"
	"github.com/rs/zerolog/log"

	"github.com/gregology/llmpostor/internal/ai"
	"github.com/gregology/llmpostor/internal/config"
	"github.com/gregology/llmpostor/internal/game"
	"github.com/gregology/llmpostor/internal/prompts"
)

// ConnCtx is the per-connection state stored on the socket.
type ConnCtx struct {
	RoomID   string
	PlayerID string
	Name     string
}

type Server struct {
	engine    *game.Engine
	players   *game.PlayerManager
	state     *game.StateKeeper
	scheduler *game.Scheduler
	catalog   *prompts.Catalog
	providers map[string]ai.Provider
	cfg       config.Config
	io        *socketio.Server
}

func New(engine *game.Engine, players *game.PlayerManager, state *game.StateKeeper, catalog *prompts.Catalog, cfg config.Config) *Server {
	return &Server{
		engine:    engine,
		players:   players,
		state:     state,
		catalog:   catalog,
		providers: make(map[string]ai.Provider),
		cfg:       cfg,
	}
}

func (srv *Server) SetScheduler(s *game.Scheduler)        { srv.scheduler = s }
func (srv *Server) SetProviders(m map[string]ai.Provider) { srv.providers = m }

// Mount attaches the socket.io server with all event handlers to the gin
// engine.
func (srv *Server) Mount(r *gin.Engine) *socketio.Server {
	io := socketio.NewServer(nil)
	srv.io = io

	io.OnConnect("/", func(s socketio.Conn) error {
		s.SetContext(&ConnCtx{})
		log.Info().Str("sid", s.ID()).Msg("socket connected")
		return nil
	})

	io.OnEvent("/", "join_room", func(s socketio.Conn, payload struct {
		RoomID string `json:"roomId"`
		Name   string `json:"name"`
	}) map[string]any {
		p, err := srv.players.AddPlayer(payload.RoomID, payload.Name, s.ID())
		if err != nil {
			return srv.err(s, joinErrorCode(err), err.Error())
		}
		s.SetContext(&ConnCtx{RoomID: payload.RoomID, PlayerID: p.ID, Name: p.Name})
		s.Join(payload.RoomID)
		log.Info().Str("sid", s.ID()).Str("room", payload.RoomID).Str("player", p.ID).Msg("join_room")
		srv.emitRoomState(payload.RoomID)
		return map[string]any{"playerId": p.ID, "score": p.Score}
	})

	io.OnEvent("/", "leave_room", func(s socketio.Conn) map[string]any {
		ctx := s.Context().(*ConnCtx)
		if ctx.RoomID == "" {
			return srv.err(s, "not_in_room", "Join a room first")
		}
		srv.players.RemovePlayer(ctx.RoomID, ctx.PlayerID)
		s.Leave(ctx.RoomID)
		roomID := ctx.RoomID
		s.SetContext(&ConnCtx{})
		srv.emitRoomState(roomID)
		return map[string]any{"ok": true}
	})

	io.OnEvent("/", "start_round", func(s socketio.Conn) map[string]any {
		ctx := s.Context().(*ConnCtx)
		if ctx.RoomID == "" {
			return srv.err(s, "not_in_room", "Join a room first")
		}
		allowed, reason := srv.engine.CanStartRound(ctx.RoomID)
		if !allowed {
			return srv.err(s, "cannot_start", reason)
		}
		go srv.startRound(ctx.RoomID)
		return map[string]any{"ok": true}
	})

	io.OnEvent("/", "submit_response", func(s socketio.Conn, payload struct {
		Text string `json:"text"`
	}) map[string]any {
		ctx := s.Context().(*ConnCtx)
		if ctx.RoomID == "" {
			return srv.err(s, "not_in_room", "Join a room first")
		}
		tr, err := srv.engine.SubmitResponse(ctx.RoomID, ctx.PlayerID, payload.Text)
		if err != nil {
			return srv.err(s, "bad_request", err.Error())
		}
		srv.emitProgress(ctx.RoomID)
		if tr != nil {
			srv.afterTransition(*tr)
		}
		return map[string]any{"ok": true}
	})

	io.OnEvent("/", "submit_guess", func(s socketio.Conn, payload struct {
		Index int `json:"index"`
	}) map[string]any {
		ctx := s.Context().(*ConnCtx)
		if ctx.RoomID == "" {
			return srv.err(s, "not_in_room", "Join a room first")
		}
		tr, err := srv.engine.SubmitGuess(ctx.RoomID, ctx.PlayerID, payload.Index)
		if err != nil {
			return srv.err(s, "bad_request", err.Error())
		}
		srv.emitProgress(ctx.RoomID)
		if tr != nil {
			srv.afterTransition(*tr)
		}
		return map[string]any{"ok": true}
	})

	io.OnEvent("/", "get_time_remaining", func(s socketio.Conn) map[string]any {
		ctx := s.Context().(*ConnCtx)
		remaining, timed := srv.engine.TimeRemaining(ctx.RoomID)
		return map[string]any{"remaining": remaining, "timed": timed}
	})

	io.OnEvent("/", "get_round_results", func(s socketio.Conn) map[string]any {
		ctx := s.Context().(*ConnCtx)
		view, ok := srv.engine.RoundResults(ctx.RoomID)
		if !ok {
			return srv.err(s, "no_results", "Results are only available after guessing ends")
		}
		return map[string]any{"results": view}
	})

	io.OnError("/", func(s socketio.Conn, e error) {
		log.Error().Str("sid", s.ID()).Err(e).Msg("socket error")
	})

	io.OnDisconnect("/", func(s socketio.Conn, reason string) {
		if ctx, ok := s.Context().(*ConnCtx); ok && ctx.RoomID != "" {
			srv.players.DisconnectPlayer(ctx.RoomID, ctx.PlayerID)
			if srv.scheduler != nil {
				srv.scheduler.OnPlayerDisconnect(ctx.RoomID, ctx.PlayerID)
			}
			srv.emitRoomState(ctx.RoomID)
		}
		log.Info().Str("sid", s.ID()).Str("reason", reason).Msg("socket disconnected")
	})

	go io.Serve()

	r.GET("/socket.io/*any", gin.WrapH(io))
	r.POST("/socket.io/*any", gin.WrapH(io))
	r.OPTIONS("/socket.io/*any", func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		c.Status(http.StatusNoContent)
	})

	return io
}

// startRound picks a prompt, generates the machine response (falling back to
// the catalog's canned one), and kicks the round off. Runs outside any room
// lock; generation latency never blocks the engine.
func (srv *Server) startRound(roomID string) {
	prompt := srv.catalog.Random()
	model := prompt.Model
	if model == "" {
		model = srv.cfg.DefaultModel
	}

	machineText := prompt.Response
	if prov := srv.providers[strings.ToLower(srv.cfg.DefaultProvider)]; prov != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if text, err := prov.Generate(ctx, model, prompt.Text); err == nil && text != "" {
			machineText = text
		} else if err != nil {
			log.Warn().Str("room", roomID).Err(err).Msg("machine response generation failed, using canned")
		}
	}

	payload := game.PromptPayload{
		ID:          prompt.ID,
		Text:        prompt.Text,
		Model:       model,
		MachineText: machineText,
	}
	if !srv.engine.StartRound(roomID, payload) {
		log.Warn().Str("room", roomID).Msg("round did not start")
		return
	}

	snap, ok := srv.state.Snapshot(roomID)
	if !ok {
		return
	}
	srv.PhaseChanged(roomID, snap.State.Phase, snap.State.Round)
	srv.io.BroadcastToRoom("/", roomID, "round_started", map[string]any{
		"round":    snap.State.Round,
		"prompt":   prompt.Text,
		"duration": snap.State.PhaseDuration,
	})
}

// afterTransition emits the events for an engine-triggered advance
// (all-responded or all-guessed).
func (srv *Server) afterTransition(tr game.Transition) {
	if srv.scheduler != nil {
		srv.scheduler.NotifyTransition(tr)
	}
	srv.PhaseChanged(tr.RoomID, tr.To, tr.Round)
	if tr.To == game.PhaseResults {
		srv.RoundEnded(tr.RoomID, tr.Round)
	}
}

// emitProgress tells the room how many actions are in so far. The machine
// response and authorship stay hidden.
func (srv *Server) emitProgress(roomID string) {
	snap, ok := srv.state.Snapshot(roomID)
	if !ok {
		return
	}
	human := 0
	for _, r := range snap.State.Responses {
		if !r.IsMachine {
			human++
		}
	}
	srv.io.BroadcastToRoom("/", roomID, "round_progress", map[string]any{
		"phase":     snap.State.Phase.String(),
		"responses": human,
		"guesses":   len(snap.State.Guesses),
	})
}

func (srv *Server) emitRoomState(roomID string) {
	snap, ok := srv.state.Snapshot(roomID)
	if !ok {
		return
	}
	players := make([]map[string]any, 0, len(snap.Players))
	for _, p := range snap.Players {
		players = append(players, map[string]any{
			"id":        p.ID,
			"name":      p.Name,
			"score":     p.Score,
			"connected": p.Connected,
		})
	}
	srv.io.BroadcastToRoom("/", roomID, "room_state", map[string]any{
		"roomId":  roomID,
		"phase":   snap.State.Phase.String(),
		"round":   snap.State.Round,
		"players": players,
	})
}

// emitGuessingOptions sends the shuffled response texts once guessing opens.
// Texts only: no author ids and no machine flag.
func (srv *Server) emitGuessingOptions(roomID string) {
	snap, ok := srv.state.Snapshot(roomID)
	if !ok || snap.State.Phase != game.PhaseGuessing {
		return
	}
	texts := make([]string, len(snap.State.Responses))
	for i, r := range snap.State.Responses {
		texts[i] = r.Text
	}
	srv.io.BroadcastToRoom("/", roomID, "guessing_started", map[string]any{
		"round":     snap.State.Round,
		"responses": texts,
		"duration":  snap.State.PhaseDuration,
	})
}

func (srv *Server) err(s socketio.Conn, code, message string) map[string]any {
	s.Emit("error", map[string]any{"code": code, "message": message})
	return map[string]any{"error": message, "code": code}
}

func joinErrorCode(err error) string {
	switch err {
	case game.ErrNameTaken:
		return "name_taken"
	case game.ErrRoomFull:
		return "room_full"
	}
	return "bad_request"
}

// Broadcaster implementation. Each carries primitives only; machine response
// content never rides along before guessing begins.

func (srv *Server) PhaseChanged(roomID string, phase game.Phase, round int) {
	srv.io.BroadcastToRoom("/", roomID, "phase_changed", map[string]any{
		"phase": phase.String(),
		"round": round,
	})
	if phase == game.PhaseGuessing {
		srv.emitGuessingOptions(roomID)
	}
}

func (srv *Server) CountdownUpdate(roomID string, phase game.Phase, remaining, duration int) {
	srv.io.BroadcastToRoom("/", roomID, "countdown_update", map[string]any{
		"phase":     phase.String(),
		"remaining": remaining,
		"duration":  duration,
	})
}

func (srv *Server) TimeWarning(roomID string, phase game.Phase, remaining int) {
	srv.io.BroadcastToRoom("/", roomID, "time_warning", map[string]any{
		"phase":     phase.String(),
		"remaining": remaining,
	})
}

func (srv *Server) RoundEnded(roomID string, round int) {
	srv.io.BroadcastToRoom("/", roomID, "round_ended", map[string]any{
		"round": round,
	})
}

func (srv *Server) GamePaused(roomID string, reason string) {
	srv.io.BroadcastToRoom("/", roomID, "game_paused", map[string]any{
		"reason": reason,
	})
}
