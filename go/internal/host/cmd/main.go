package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"strings"
	"os/signal"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/mcdev12/livequiz/go/internal/config"
	"github.com/mcdev12/livequiz/go/internal/host"
	"github.com/mcdev12/livequiz/go/internal/identity"
	"github.com/mcdev12/livequiz/go/internal/models"
	"github.com/mcdev12/livequiz/go/internal/player"
	"github.com/mcdev12/livequiz/go/internal/session"
	"github.com/rs/zerolog/log"
)

type hostConfig struct {
	ServerURL  string        `env:"QUIZ_SERVER_URL" envDefault:"http://localhost:8080"`
	HostName   string        `env:"QUIZ_HOST_NAME" envDefault:"Quizmaster"`
	QuizID     string        `env:"QUIZ_ID" envDefault:"capitals"`
	MinPlayers int           `env:"QUIZ_MIN_PLAYERS" envDefault:"1"`
	LobbyWait  time.Duration `env:"QUIZ_LOBBY_WAIT" envDefault:"2m"`
	RulesPath  string        `env:"QUIZ_RULES_PATH" envDefault:"config/rules.yaml"`
	TokenFile  string        `env:"QUIZ_HOST_TOKEN_FILE" envDefault:".quiz-host-token"`
	Resume     bool          `env:"QUIZ_RESUME" envDefault:"false"`
	LogLevel   string        `env:"LOG_LEVEL" envDefault:"info"`
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	var cfg hostConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatal().Err(err).Msg("failed to parse host config")
	}
	flag.BoolVar(&cfg.Resume, "resume", cfg.Resume, "resume this host's active session instead of opening a new one")
	flag.StringVar(&cfg.QuizID, "quiz", cfg.QuizID, "catalog quiz to host")
	flag.Parse()
	config.ConfigureLogging(cfg.LogLevel)

	rules, err := config.LoadRules(cfg.RulesPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load rules")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpClient := &http.Client{}

	issued, err := identity.NewClient(httpClient, cfg.ServerURL).IssueIdentity(ctx, &identity.IssueIdentityRequest{
		DisplayName: cfg.HostName,
		Host:        true,
		Token:       readToken(cfg.TokenFile),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to obtain host identity")
	}
	if err := os.WriteFile(cfg.TokenFile, []byte(issued.Token), 0o600); err != nil {
		log.Warn().Err(err).Str("path", cfg.TokenFile).Msg("failed to save host token, resume will not be possible")
	}
	auth := connect.WithInterceptors(identity.NewClientInterceptor(issued.Token))
	sessions := session.NewClient(httpClient, cfg.ServerURL, auth)
	players := player.NewClient(httpClient, cfg.ServerURL, auth)

	current, resumed, err := openSession(ctx, sessions, cfg)
	if err != nil {
		log.Fatal().Err(session.RemoteError(err)).Msg("failed to open session")
	}
	log.Info().
		Str("session_id", current.ID).
		Str("pin", current.Pin).
		Str("quiz", current.QuizTitle).
		Str("status", string(current.Status)).
		Bool("resumed", resumed).
		Msg("lobby open, share the pin")

	if current.Status == models.SessionStatusWaiting {
		if err := waitForPlayers(ctx, players, current.ID, cfg.MinPlayers, cfg.LobbyWait); err != nil {
			log.Fatal().Err(err).Msg("lobby closed before the game started")
		}
		if _, err := sessions.StartGame(ctx, current.ID); err != nil {
			log.Fatal().Err(session.RemoteError(err)).Msg("failed to start game")
		}
	}

	driverCfg := host.DefaultConfig()
	driverCfg.AutoAdvance.Percent = rules.AdvancePercent
	driverCfg.AutoAdvance.Grace = rules.AdvanceGrace
	driver := host.NewDriver(host.NewRemote(current.ID, sessions, players), nil, driverCfg)
	if err := driver.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("host driver failed")
	}

	board, err := players.ListPlayers(context.Background(), current.ID)
	if err != nil {
		log.Warn().Err(err).Msg("failed to fetch final leaderboard")
		return
	}
	for _, p := range board {
		log.Info().Int("rank", p.Rank).Str("player", p.DisplayName).Int("score", p.Score).Msg("final standing")
	}
}

// openSession resumes the host's live session when asked to and one exists,
// else creates a new lobby.
func openSession(ctx context.Context, sessions *session.Client, cfg hostConfig) (session.View, bool, error) {
	if cfg.Resume {
		active, err := sessions.GetActiveSession(ctx)
		switch {
		case err == nil:
			return active, true, nil
		case session.IsNotFound(err):
			log.Info().Msg("no active session to resume, creating one")
		default:
			return session.View{}, false, err
		}
	}
	created, err := sessions.CreateSession(ctx, &session.CreateSessionRequest{QuizID: cfg.QuizID})
	return created, false, err
}

func readToken(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

var errLobbyTimeout = errors.New("not enough players joined in time")

func waitForPlayers(ctx context.Context, players *player.Client, sessionID string, needed int, wait time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	stream, err := players.WatchPlayers(ctx, sessionID)
	if err != nil {
		return err
	}
	defer stream.Close()

	for stream.Receive() {
		n := len(stream.Msg().Players)
		log.Info().Int("players", n).Int("needed", needed).Msg("waiting for players")
		if n >= needed {
			return nil
		}
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errLobbyTimeout
	}
	if err := stream.Err(); err != nil {
		return err
	}
	return errLobbyTimeout
}
