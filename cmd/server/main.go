package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"chatapp/config"
	"chatapp/internal/api"
	"chatapp/internal/auth"
	"chatapp/internal/blob"
	"chatapp/internal/conversation"
	"chatapp/internal/identity"
	"chatapp/internal/message"
	"chatapp/internal/notify"
	"chatapp/internal/rtdb"
	"chatapp/pkg/jwt"
)

func main() {
	_ = godotenv.Load()

	log := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		log = log.Level(level)
	}

	store, err := rtdb.OpenSQLiteStore(cfg.DatabasePath, log)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DatabasePath).Msg("failed to open store")
	}
	defer store.Close()

	diskStorage, err := blob.NewDiskStorage("uploads")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to prepare upload storage")
	}

	tokens := jwt.NewJWT(cfg.JWTSecret, cfg.TokenTTLSeconds)
	directory := identity.NewDirectory(store.MemoryStore, log)
	resolver := conversation.NewResolver(store.MemoryStore, log)
	messages := message.NewStore(store.MemoryStore, log)
	verifier := auth.NewCodeVerifier(cfg.VerificationCode)
	authService := auth.NewService(verifier, directory, tokens, log)
	uploader := blob.NewUploader(diskStorage, log)
	notifier := notify.NewService(directory, nil, log)

	server := api.NewServer(api.Deps{
		Store:     store.MemoryStore,
		Auth:      authService,
		Directory: directory,
		Resolver:  resolver,
		Messages:  messages,
		Uploader:  uploader,
		Notify:    notifier,
		Log:       log,
	})

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // presence streams stay open
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("shutdown incomplete")
	}
}
