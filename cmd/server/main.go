package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	zerologlog "github.com/rs/zerolog/log"

	"github.com/gregology/llmpostor/internal/ai"
	"github.com/gregology/llmpostor/internal/ai/ollama"
	"github.com/gregology/llmpostor/internal/ai/openai"
	"github.com/gregology/llmpostor/internal/config"
	"github.com/gregology/llmpostor/internal/game"
	"github.com/gregology/llmpostor/internal/prompts"
	"github.com/gregology/llmpostor/internal/ws"
)

const version = "v1.0.0-dev"

func main() {
	var (
		showHelp    = flag.Bool("help", false, "Show help message")
		showVersion = flag.Bool("version", false, "Show version information")
		portFlag    = flag.String("port", "", "Port to listen on (overrides PORT env var)")
	)
	flag.BoolVar(showHelp, "h", false, "Show help message (shorthand)")
	flag.BoolVar(showVersion, "v", false, "Show version information (shorthand)")
	flag.Parse()

	if *showHelp {
		fmt.Printf(`LLMpostor - spot the AI impostor among your friends' answers

Usage: %s [options]

Options:
  -h, --help      Show this help message
  -v, --version   Show version information
  --port PORT     Port to listen on (default: 8080 or PORT env var)

Environment Variables:
  PORT                       Port to listen on (default: 8080)
  RESPONSE_TIME              Responding phase length in seconds (default: 120)
  GUESS_TIME                 Guessing phase length in seconds (default: 60)
  RESULTS_TIME               Results phase length in seconds (default: 30)
  MAX_PLAYERS                Room capacity (default: 8)
  MIN_PLAYERS                Minimum players to start a round (default: 2)
  ROOM_MAX_INACTIVE_MINUTES  Idle time before a room is swept (default: 60)
  FLOW_TICK_SECONDS          Scheduler tick interval (default: 1)
  COUNTDOWN_INTERVAL         Countdown broadcast interval in seconds (default: 10)
  DEDUP_WINDOW_MS            Duplicate-request window in milliseconds (default: 1000)
  PROMPTS_FILE               Path to the prompt catalog (default: prompts.yml)
  DEFAULT_PROVIDER           AI provider: "openai" or "ollama" (default: openai)
  DEFAULT_MODEL              Model used when a prompt names none (default: gpt-4o-mini)
  OPENAI_API_KEY             OpenAI API key
  OPENAI_BASE_URL            Custom OpenAI API base URL (optional)
  OLLAMA_HOST                Ollama host URL (default: http://localhost:11434)
`, os.Args[0])
		return
	}

	if *showVersion {
		fmt.Printf("LLMpostor %s\n", version)
		return
	}

	// .env is optional; real env vars win either way.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *portFlag != "" {
		cfg.Port = *portFlag
	}

	zerolog.TimeFieldFormat = time.RFC3339
	cw := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	zerologlog.Logger = zerologlog.Output(cw)

	catalog, err := prompts.Load(cfg.PromptsFile)
	if err != nil {
		zerologlog.Fatal().Err(err).Msg("cannot load prompt catalog")
	}

	settings := cfg.GameSettings()
	store := game.NewRoomStore()
	locks := game.NewLockRegistry()
	dedup := game.NewDeduper(settings.DedupWindow)
	players := game.NewPlayerManager(store, locks, dedup, settings)
	state := game.NewStateKeeper(store, locks)
	engine := game.NewEngine(store, locks, players, state, settings)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.Request.URL.Path
		if strings.HasPrefix(path, "/socket.io") {
			return
		}
		zerologlog.Info().Str("path", path).Int("status", c.Writer.Status()).Dur("dur", time.Since(start)).Msg("http")
	})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "time": time.Now().UTC()})
	})
	r.GET("/api/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"rooms": store.RoomIDs()})
	})
	r.GET("/api/rooms/:id", func(c *gin.Context) {
		snap, ok := state.Snapshot(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "room_not_found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"roomId":  snap.ID,
			"phase":   snap.State.Phase.String(),
			"round":   snap.State.Round,
			"players": len(snap.Players),
		})
	})

	sock := ws.New(engine, players, state, catalog, cfg)
	sock.SetProviders(map[string]ai.Provider{
		"openai": openai.New(cfg.OpenAIKey, cfg.OpenAIBaseURL),
		"ollama": ollama.New(cfg.OllamaHost),
	})
	io := sock.Mount(r)
	defer io.Close()

	scheduler := game.NewScheduler(engine, store, locks, sock, settings)
	sock.SetScheduler(scheduler)
	scheduler.Start()

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	go func() {
		zerologlog.Info().Str("port", cfg.Port).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zerologlog.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zerologlog.Info().Msg("shutting down")
	scheduler.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		zerologlog.Error().Err(err).Msg("shutdown error")
	}
}
