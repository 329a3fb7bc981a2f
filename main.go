package main

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"

	"github.com/mediavault/mediavault_server/internal"
	"github.com/mediavault/mediavault_server/internal/cas"
	"github.com/mediavault/mediavault_server/internal/health"
	"github.com/mediavault/mediavault_server/internal/media"
	"github.com/mediavault/mediavault_server/internal/session"
)

const version = "1.0.0"

func main() {
	config, err := internal.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
		return
	}

	db, err := internal.NewDB(config.Database.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing database")
		return
	}

	backend, err := cas.NewBackend(config.BackendConfig())
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing storage backend")
		return
	}
	store := cas.NewStore(backend)

	sessionManager := session.NewManager(session.NewSQLRepository(db), session.Config{
		Secret:      config.Upload.Secret,
		BaseURL:     config.Server.ExternalURL,
		TTL:         time.Duration(config.Upload.TTLMinutes) * time.Minute,
		MaxFileSize: config.Upload.MaxFileSize,
	})

	sweeper := session.NewSweeper(session.NewSQLRepository(db), 10*time.Minute)
	sweeper.Start()
	defer sweeper.Stop()

	mediaService := media.NewService(media.NewSQLRepository(db), store, sessionManager)
	mediaEndpoints := media.NewEndpoints(mediaService)
	healthEndpoints := health.NewEndpoints(version, db, store)

	requestHandler := internal.NewRequestHandler(config, mediaEndpoints, healthEndpoints)

	server := &fasthttp.Server{
		Handler: requestHandler,
		// Upload bodies are hashed as they arrive, never buffered whole.
		StreamRequestBody:  true,
		MaxRequestBodySize: int(sessionManager.MaxFileSize()) + 1024*1024,
	}

	log.Info().Str("addr", config.Server.ListenAddr).Msg("Starting media store server")
	if err := server.ListenAndServe(config.Server.ListenAddr); err != nil {
		log.Fatal().Err(err).Msg("Error starting server")
	}
}
