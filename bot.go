package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"gisthq-bot/internal/access"
	"gisthq-bot/internal/bot"
	"gisthq-bot/internal/command"
	"gisthq-bot/internal/config"
	"gisthq-bot/internal/message"
	"gisthq-bot/internal/plugins"
	"gisthq-bot/internal/reconnect"
	"gisthq-bot/internal/reply"
	"gisthq-bot/internal/session"
	"gisthq-bot/internal/settings"
	"gisthq-bot/internal/store"
	"gisthq-bot/internal/transport"
)

const storeCloseTimeout = 5 * time.Second

//////////////////////////////////////////////////////////////
// SETUP
//////////////////////////////////////////////////////////////

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.DateTime}).
		Level(lvl).
		With().Timestamp().Logger()
}

// openStore opens the configured backend. A Mongo failure falls back to
// the JSON files so the bot still starts.
func openStore(ctx context.Context, cfg config.Config, log zerolog.Logger) (store.Store, error) {
	if cfg.StoreBackend == config.BackendMongo {
		m, err := store.OpenMongo(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err == nil {
			log.Info().Str("database", cfg.MongoDatabase).Msg("Connected to MongoDB")
			return m, nil
		}
		log.Warn().Err(err).Msg("MongoDB unavailable, falling back to JSON files")
	}
	j, err := store.OpenJSONFile(cfg.DatabaseDir)
	if err != nil {
		return nil, err
	}
	log.Info().Str("dir", cfg.DatabaseDir).Msg("Using JSON file store")
	return j, nil
}

//////////////////////////////////////////////////////////////
// MAIN
//////////////////////////////////////////////////////////////

func main() {
	cfg, err := config.Load()
	log := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	log.Info().Str("bot", cfg.BotName).Str("version", plugins.Version).Msg("🚀 Starting")
	if len(cfg.OwnerNumbers) == 0 {
		log.Warn().Msg("OWNER_NUMBER is empty, only the linked account counts as owner")
	}
	ctx := context.Background()

	db, err := openStore(ctx, cfg, log.With().Str("component", "store").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}

	settingsMgr := settings.NewManager(settings.FromConfig(cfg), db, log.With().Str("component", "settings").Logger())
	if err = settingsMgr.Load(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to load saved settings, using configured defaults")
	}

	sessions := session.New(session.Options{
		Dir:            cfg.SessionDir,
		SessionID:      cfg.SessionID,
		SessionURL:     cfg.SessionURL,
		AllowQRPairing: cfg.AllowQRPairing,
	}, log.With().Str("component", "session").Logger())
	device, err := sessions.Load(ctx)
	switch {
	case errors.Is(err, session.ErrNotFound):
		log.Fatal().Err(err).Msg("No session found. Set SESSION_ID or enable ALLOW_QR_PAIRING")
	case errors.Is(err, session.ErrSessionCorrupt):
		log.Fatal().Err(err).Msg("Session is corrupted. Remove it and pair again")
	case err != nil:
		log.Fatal().Err(err).Msg("Failed to load session")
	}

	// The transport callbacks reach the pipeline and controller, which in
	// turn need the transport; both are assigned before Connect.
	var (
		pipeline   *bot.Pipeline
		controller *reconnect.Controller
	)
	lifecycle := &bot.Lifecycle{
		Settings: settingsMgr,
		Store:    db,
		Session:  sessions,
		Texts:    bot.Texts{Startup: startupText, Welcome: welcomeText},
		Log:      log.With().Str("component", "lifecycle").Logger(),
	}
	wa := transport.NewWhatsApp(device, log.With().Str("component", "transport").Logger(), transport.Handlers{
		OnState:       func(evt transport.StateEvent) { controller.HandleEvent(evt) },
		OnMessage:     func(env *message.Envelope) { pipeline.Enqueue(env) },
		OnCredentials: lifecycle.OnCredentials,
		OnGroupJoin:   lifecycle.OnGroupJoin,
	}, transport.Options{AllowQRPairing: cfg.AllowQRPairing})

	gateway := reply.NewGateway(wa, log.With().Str("component", "reply").Logger())
	registry := command.NewRegistry()
	dispatcher := command.NewDispatcher(registry, wa, gateway, log.With().Str("component", "dispatcher").Logger())
	lists := access.NewLists(db, access.DefaultTTL)

	pipeline = bot.NewPipeline(bot.PipelineDeps{
		Transport:  wa,
		Settings:   settingsMgr,
		Store:      db,
		Access:     lists,
		Dispatcher: dispatcher,
		Owners:     cfg.OwnerNumbers,
		Status:     cfg.Status,
		Log:        log.With().Str("component", "pipeline").Logger(),
	})
	lifecycle.Transport = wa
	lifecycle.Gateway = gateway
	started := time.Now()
	lifecycle.Install = func() error {
		return plugins.Install(plugins.Deps{
			Store:    db,
			Access:   lists,
			Settings: settingsMgr,
			Registry: registry,
			Owners:   cfg.OwnerNumbers,
			Started:  started,
			Log:      log.With().Str("component", "plugins").Logger(),
		})
	}
	controller = reconnect.New(wa, reconnect.PolicyFromConfig(cfg.Reconnect), reconnect.Hooks{
		OnOpen:      lifecycle.OnOpen,
		OnLoggedOut: lifecycle.OnLoggedOut,
		OnExhausted: lifecycle.OnExhausted,
	}, log.With().Str("component", "reconnect").Logger())

	pipeline.Start()
	if err = controller.Connect(ctx); err != nil {
		log.Error().Err(err).Msg("Initial connect failed")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	log.Info().Stringer("signal", sig).Msg("Shutting down")

	controller.Shutdown()
	pipeline.Stop()
	dispatcher.Wait()
	lifecycle.Wait()
	if err = sessions.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close session store")
	}
	closeCtx, cancel := context.WithTimeout(context.Background(), storeCloseTimeout)
	defer cancel()
	if err = db.Close(closeCtx); err != nil {
		log.Warn().Err(err).Msg("Failed to close database")
	}
	log.Info().Msg("👋 Bye")
}
