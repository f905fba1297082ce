package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/alexjbarnes/ambient-dash/internal/auth"
	"github.com/alexjbarnes/ambient-dash/internal/config"
	"github.com/alexjbarnes/ambient-dash/internal/dashboard"
	apperrors "github.com/alexjbarnes/ambient-dash/internal/errors"
	"github.com/alexjbarnes/ambient-dash/internal/hub"
	"github.com/alexjbarnes/ambient-dash/internal/logging"
	"github.com/alexjbarnes/ambient-dash/internal/mcpserver"
	"github.com/alexjbarnes/ambient-dash/internal/models"
	"github.com/alexjbarnes/ambient-dash/internal/poll"
	"github.com/alexjbarnes/ambient-dash/internal/provider"
	"github.com/alexjbarnes/ambient-dash/internal/server"
	"github.com/alexjbarnes/ambient-dash/internal/state"
	"github.com/alexjbarnes/ambient-dash/internal/widget/clock"
	"github.com/alexjbarnes/ambient-dash/internal/widget/spotify"
	"github.com/alexjbarnes/ambient-dash/internal/widget/tasks"
	"github.com/alexjbarnes/ambient-dash/internal/widget/transit"
	"github.com/alexjbarnes/ambient-dash/internal/widget/weather"
)

var Version = "dev"

const fetchTimeout = 20 * time.Second

func main() {
	// Handle gen-key subcommand before config loading.
	if len(os.Args) > 1 && os.Args[1] == "gen-key" {
		genKey()
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// genKey prints a random STATE_ENCRYPTION_KEY.
func genKey() {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(hex.EncodeToString(key))
}

func run() error {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment)
	logger.Info("ambient-dash starting",
		slog.String("version", Version),
		slog.String("listen", cfg.ListenAddr),
		slog.String("state_backend", cfg.StateBackend),
		slog.Bool("sealed", cfg.StateKey() != nil),
		slog.Bool("mcp", cfg.EnableMCP),
	)

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	client := provider.NewClient(nil)
	dash := dashboard.NewDashboard(logger.With(slog.String("service", "dashboard")))

	spotifyProvider := auth.Spotify(cfg.Spotify.ClientID, cfg.Spotify.RedirectURI, cfg.Spotify.ClientSecret)
	spotifyAuth := auth.NewManager(spotifyProvider, store, client, logger)
	if err := spotifyAuth.Seed(cfg.Spotify.RefreshToken); err != nil {
		return fmt.Errorf("seeding spotify token: %w", err)
	}

	googleProvider := auth.Google(cfg.Google.ClientID, cfg.Google.RedirectURI, cfg.Google.ClientSecret, auth.Flow(cfg.Google.AuthFlow))
	googleAuth := auth.NewManager(googleProvider, store, client, logger)

	dash.AddManager(spotifyAuth)
	dash.AddManager(googleAuth)

	watchTargets, err := addWidgets(cfg, dash, client, spotifyAuth, googleAuth, logger)
	if err != nil {
		return err
	}

	dash.Start(gctx)
	defer dash.Stop()

	stream := hub.New(dash, logger.With(slog.String("service", "hub")), hub.WithOriginPatterns(cfg.PublicHost()))
	defer stream.Close()

	var mcpHandler http.Handler
	if cfg.EnableMCP {
		mcpServer := mcp.NewServer(
			&mcp.Implementation{Name: "ambient-dash", Version: Version},
			nil,
		)
		mcpserver.RegisterTools(mcpServer, dash)

		mcpHandler = mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
			return mcpServer
		}, nil)
	}

	mux := server.NewMux(server.MuxConfig{
		Dashboard:  dash,
		Stream:     stream,
		MCPHandler: mcpHandler,
		Logger:     logger.With(slog.String("service", "http")),
		AuthLimit:  server.DefaultAuthLimit,
	})

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	if watchTargets != nil {
		onReload := func() { dash.Refresh("transit") }
		g.Go(func() error {
			err := transit.WatchTargets(gctx, cfg.Transit.TargetsFile, watchTargets, onReload, logger.With(slog.String("widget", "transit")))
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down HTTP server")
		// Websocket connections are hijacked and ignored by Shutdown.
		stream.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		logger.Info("starting HTTP server", slog.String("listen", cfg.ListenAddr), slog.String("public_url", cfg.PublicURL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// openStore opens the configured token store, sealing values when an
// encryption key is set.
func openStore(cfg *config.Config) (state.Store, error) {
	var store state.Store

	switch cfg.StateBackend {
	case config.BackendMemory:
		store = state.NewMemory()
	default:
		bolt, err := state.LoadAt(cfg.StatePath)
		if err != nil {
			return nil, fmt.Errorf("opening state: %w", err)
		}
		store = bolt
	}

	key := cfg.StateKey()
	if key == nil {
		return store, nil
	}

	sealed, err := state.NewSealed(store, key)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("sealing state: %w", err)
	}

	return sealed, nil
}

// addWidgets registers the five dashboard widgets. It returns the
// transit fetcher when a targets file should be watched.
func addWidgets(
	cfg *config.Config,
	dash *dashboard.Dashboard,
	client *provider.Client,
	spotifyAuth, googleAuth *auth.Manager,
	logger *slog.Logger,
) (*transit.Fetcher, error) {
	clk, err := clock.New(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("creating clock: %w", err)
	}

	weatherFetcher := weather.NewFetcher(client, weather.Location{
		Latitude:  cfg.Weather.Latitude,
		Longitude: cfg.Weather.Longitude,
		Timezone:  cfg.Timezone,
	})

	var (
		targets    = transit.DefaultTargets()
		transitErr error
		watch      bool
	)
	if cfg.Transit.TargetsFile != "" {
		loaded, err := transit.LoadTargets(cfg.Transit.TargetsFile)
		if err != nil {
			transitErr = fmt.Errorf("%w: transit targets: %w", apperrors.ErrConfiguration, err)
			logger.Error("loading transit targets",
				slog.String("path", cfg.Transit.TargetsFile),
				slog.String("error", err.Error()),
			)
		} else {
			targets = loaded
			watch = true
		}
	}
	transitFetcher := transit.NewFetcher(client, targets)

	spotifyFetcher := spotify.NewFetcher(spotifyAuth, client)
	tasksFetcher := tasks.NewFetcher(googleAuth, client, tasks.WithMaxResults(cfg.Tasks.MaxResults))

	dash.Add(
		dashboard.New("clock",
			poll.New("clock", clk.Fetch, poll.WithLogger[models.Clock](logger)),
			dashboard.Options{Interval: cfg.ClockTick},
		),
		dashboard.New("weather",
			poll.New("weather", weatherFetcher.Fetch,
				poll.WithLogger[models.Weather](logger),
				poll.WithFetchTimeout[models.Weather](fetchTimeout),
			),
			dashboard.Options{Interval: cfg.Weather.PollInterval},
		),
		dashboard.New("transit",
			poll.New("transit", transitFetcher.Fetch,
				poll.WithLogger[models.Arrivals](logger),
				poll.WithFetchTimeout[models.Arrivals](fetchTimeout),
			),
			dashboard.Options{Interval: cfg.Transit.PollInterval, ConfigErr: transitErr},
		),
		dashboard.New("spotify",
			poll.New("spotify", spotifyFetcher.Fetch,
				poll.WithLogger[models.NowPlaying](logger),
				poll.WithFetchTimeout[models.NowPlaying](fetchTimeout),
			),
			dashboard.Options{Interval: cfg.Spotify.PollInterval, Auth: spotifyAuth},
		),
		dashboard.New("tasks",
			poll.New("tasks", tasksFetcher.Fetch,
				poll.WithLogger[models.TaskList](logger),
				poll.WithFetchTimeout[models.TaskList](fetchTimeout),
			),
			dashboard.Options{Interval: cfg.Tasks.PollInterval, Auth: googleAuth},
		),
	)

	if !watch {
		return nil, nil
	}

	return transitFetcher, nil
}
