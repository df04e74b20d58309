package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"homechat/internal/chat"
	"homechat/internal/config"
	"homechat/internal/db"
	clog "homechat/internal/log"
	"homechat/internal/mw"
	"homechat/internal/server"
	"homechat/internal/store"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// main 函数负责加载配置、初始化日志、连接数据库并启动 Gin 服务。
	cfg := config.Load()
	clog.Init(cfg.Env, cfg.LogLevel)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	gdb, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}

	hub := chat.NewHub(chat.Deps{
		Messages: store.NewMessages(gdb),
		Users:    store.NewDirectory(gdb),
		Projects: store.NewAccess(gdb),
	}, chat.OptionsFrom(cfg))
	limiter := mw.NewRateLimiter(rate.Every(time.Second/20), 40, 2*time.Minute)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.SetupRouter(cfg, gdb, hub, limiter),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", srv.Addr).Str("env", cfg.Env).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server run")
		}
	}()

	wait := gfshutdown.GracefulShutdown(context.Background(), shutdownTimeout, map[string]gfshutdown.Operation{
		// 各 operation 并发执行，数据库必须在 HTTP 退出后再关闭，所以放在同一个 operation 里
		"homechat": func(ctx context.Context) error {
			hub.Close()
			limiter.Stop()
			if err := srv.Shutdown(ctx); err != nil {
				return err
			}
			sqlDB, err := gdb.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	})
	code := <-wait
	log.Info().Int("code", code).Msg("server exited")
	os.Exit(code)
}
