package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"go-chat-history/internal/chat"
	"go-chat-history/internal/config"
	"go-chat-history/internal/db"
	myMiddleware "go-chat-history/internal/middleware"
	"go-chat-history/internal/user"
)

const shutdownTimeout = 10 * time.Second

var configPath string

var cmd = &cobra.Command{
	Use:          "server",
	Short:        "chat server with an in-memory message history cache",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath, cmd.Flags())
		if err != nil {
			return err
		}
		logger, err := cfg.Log.NewLogger()
		if err != nil {
			return err
		}
		defer logger.Sync()

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		return run(ctx, cfg, logger)
	},
}

func init() {
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	cmd.Flags().String("addr", ":8080", "http service address")
	cmd.Flags().String("redis-addr", "localhost:6379", "redis address used for event fan-out")
	cmd.Flags().String("metrics-path", "/metrics", "path serving prometheus metrics")
	cmd.Flags().Int("history.cached-chats", chat.DefaultHistoryConfig().CachedChats, "number of chats kept in memory")
	cmd.Flags().Int("history.page-size", chat.DefaultHistoryConfig().PageSize, "default and maximum history page size")
	cmd.Flags().String("log.level", "info", "logging level")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	database, err := db.NewDatabase(ctx, cfg.DBDSN, logger.Named("db"))
	if err != nil {
		return err
	}
	defer database.Close()
	if err := database.AutoMigrate(ctx); err != nil {
		return err
	}
	logger.Info("connected to postgres")

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis at %s: %w", cfg.RedisAddr, err)
	}
	logger.Info("connected to redis", zap.String("addr", cfg.RedisAddr))

	userRepo := user.NewRepository(database.Conn)
	userService := user.NewService(userRepo, cfg.JWTSecret)
	userHandler := user.NewHandler(userService, logger.Named("user"))

	chatRepo := chat.NewRepository(database.Conn)
	broker := chat.NewRedisBroker(redisClient, cfg.RedisChannel, logger.Named("broker"))
	history, err := chat.NewHistory(cfg.History, logger.Named("history"))
	if err != nil {
		return err
	}
	hub := chat.NewHub(history, chatRepo, broker, cfg.History.PageSize, logger.Named("hub"))
	go hub.Run(ctx)

	chatHandler := chat.NewHandler(hub, chatRepo, logger.Named("chat"))
	authMiddleware := myMiddleware.NewAuthMiddleware(userService, logger.Named("auth"))

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Post("/register", userHandler.Register)
	r.Post("/login", userHandler.Login)
	r.Handle(cfg.MetricsPath, promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)
		r.Get("/api/users/search", userHandler.SearchUsers)
		chatHandler.Routes(r)
	})

	srv := &http.Server{Addr: cfg.Addr, Handler: r}
	errc := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", cfg.Addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
