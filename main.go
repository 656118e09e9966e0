package main

import (
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/pliu/confab/internal/chat"
	"github.com/pliu/confab/internal/config"
	"github.com/pliu/confab/internal/crypto"
	"github.com/pliu/confab/internal/friends"
	"github.com/pliu/confab/internal/store"
	"github.com/pliu/confab/internal/store/sqlstore"
	"github.com/pliu/confab/internal/ws"
)

func main() {
	cfg := config.Load()

	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	// Connect to the database. Failure is not fatal: the server runs in
	// degraded mode with ephemeral room chat and no friend graph.
	var st store.Store
	if sqlStore, err := sqlstore.New(cfg.DatabaseDriver, cfg.DatabaseURL); err != nil {
		logger.Warn().Err(err).Msg("database unavailable, running in degraded mode")
	} else {
		defer sqlStore.Close()
		st = sqlStore
		logger.Info().Str("driver", cfg.DatabaseDriver).Msg("connected to database")
	}

	rooms := ws.NewRoomCache(ws.DefaultRooms())
	bootstrapRooms(st, rooms, logger)

	cipher := crypto.NewCipher(cfg.EncryptionSecret)
	chatSvc := chat.NewService(st, cipher, logger)
	graph := friends.New(st)
	server := ws.NewServer(st, chatSvc, graph, rooms, logger)

	r := mux.NewRouter()
	r.Use(loggingMiddleware(logger))

	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods("GET")

	r.HandleFunc("/ws", server.ServeWS)

	// Browser client
	r.PathPrefix("/").Handler(http.FileServer(http.Dir(cfg.StaticDir)))

	logger.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("starting confab server")
	if err := http.ListenAndServe(":"+cfg.Port, r); err != nil {
		logger.Fatal().Err(err).Msg("server failed")
	}
}

// bootstrapRooms makes sure the default rooms exist in the database and
// loads every persisted room into the cache.
func bootstrapRooms(st store.Store, rooms *ws.RoomCache, logger zerolog.Logger) {
	if st == nil {
		return
	}

	for _, room := range ws.DefaultRooms() {
		if err := st.CreateRoom(&room); err != nil && !errors.Is(err, store.ErrDuplicate) {
			logger.Warn().Err(err).Str("room", room.Name).Msg("failed to create default room")
		}
	}

	persisted, err := st.Rooms()
	if err != nil {
		logger.Warn().Err(err).Msg("failed to load rooms, using defaults")
		return
	}
	rooms.Replace(persisted)
	logger.Info().Int("count", len(persisted)).Msg("loaded rooms from database")
}

func loggingMiddleware(logger zerolog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Dur("elapsed", time.Since(start)).
				Msg("request")
		})
	}
}
