package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"pulsechat/internal/app"
)

func main() {
	addr := flag.String("addr", "", "server listen address")
	path := flag.String("path", "", "websocket join path")
	db := flag.String("db", "", "sqlite database path")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := app.ServerConfig{Addr: *addr, Path: *path, DBPath: *db}
	handle, err := app.RunServer(ctx, cfg)
	if err != nil {
		logrus.WithError(err).Fatal("start server")
	}
	if err := handle.Wait(); err != nil {
		logrus.WithError(err).Fatal("server exited")
	}
}
