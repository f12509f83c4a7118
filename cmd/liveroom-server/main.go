package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/castlebay/liveroom/internal/archive"
	appcfg "github.com/castlebay/liveroom/internal/config"
	"github.com/castlebay/liveroom/internal/msgcat"
	"github.com/castlebay/liveroom/internal/obslog"
	"github.com/castlebay/liveroom/internal/ratings"
	"github.com/castlebay/liveroom/internal/results"
	"github.com/castlebay/liveroom/internal/rules"
	"github.com/castlebay/liveroom/internal/session"
	"github.com/castlebay/liveroom/internal/ws"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
)

func main() {
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()

	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	cat, err := msgcat.New(cfg.MessageDir)
	if err != nil {
		log.Fatalf("message catalog error: %v", err)
	}

	// Redis archive: code reservations plus finished-game records.
	// Optional; without it codes are only unique per process.
	var store *archive.Store
	if cfg.RedisURL != "" {
		store, err = archive.NewStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("archive init error: %v", err)
		}
		defer store.Close()
	}

	var repo *results.Repository
	if cfg.DatabaseURL != "" {
		repo, err = results.NewRepository(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("results repo init error: %v", err)
		}
		defer repo.Close()
	}

	var ratingsClient *ratings.Client
	if cfg.RatingsBaseURL != "" {
		opts := []ratings.Option{ratings.WithTimeout(10 * time.Second)}
		if store != nil {
			opts = append(opts, ratings.WithCache(store.Client()))
		}
		ratingsClient = ratings.NewClient(cfg.RatingsBaseURL, opts...)
	}

	onFinish := func(fr session.FinalResult) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		rec := &results.Record{
			GameID:      fr.GameID,
			Code:        fr.Code,
			WhiteName:   fr.WhiteName,
			BlackName:   fr.BlackName,
			WhiteRating: fr.WhiteRating,
			BlackRating: fr.BlackRating,
			TimeControl: fr.TimeControl,
			Outcome:     fr.Outcome,
			Method:      fr.Method,
			MovesUCI:    fr.MovesUCI,
			MovesSAN:    fr.MovesSAN,
			StartedAt:   fr.StartedAt,
			EndedAt:     fr.EndedAt,
		}
		if repo != nil {
			if err := repo.SaveResult(ctx, rec); err != nil {
				obslog.L().Error("save result failed", zap.String("game_id", fr.GameID), zap.Error(err))
			}
		}
		if store != nil {
			g := &archive.Game{
				GameID:      fr.GameID,
				Code:        fr.Code,
				Result:      fr.Result,
				Outcome:     fr.Outcome,
				Method:      fr.Method,
				WhiteName:   fr.WhiteName,
				BlackName:   fr.BlackName,
				TimeControl: fr.TimeControl,
				MovesUCI:    fr.MovesUCI,
				PGN:         results.BuildPGN(rec),
				StartedAt:   fr.StartedAt,
				EndedAt:     fr.EndedAt,
			}
			if err := store.SaveGame(ctx, g); err != nil {
				obslog.L().Error("archive game failed", zap.String("game_id", fr.GameID), zap.Error(err))
			}
		}
	}

	var codes session.CodeReserver
	if store != nil {
		codes = store
	}
	reg := session.NewRegistry(rules.NewEngine(), codes, cat, onFinish, session.RegistryConfig{
		MaxRooms:    cfg.MaxRooms,
		IdleTimeout: cfg.RoomIdleTimeout,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go reg.Run(ctx)

	srv := ws.NewServer(reg, ratingsClient, store, cat, cfg.PublicURL)
	mux := httprouter.New()
	srv.Routes(mux)

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		obslog.L().Info("listening", zap.String("addr", cfg.ListenAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			obslog.L().Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	obslog.L().Info("shutting down")
	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		obslog.L().Warn("shutdown", zap.Error(err))
	}
}
