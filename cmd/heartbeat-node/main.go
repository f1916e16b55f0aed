package main

import (
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/strefethen/heartbeat-hub-go/internal/config"
	"github.com/strefethen/heartbeat-hub-go/internal/node"
	"github.com/strefethen/heartbeat-hub-go/internal/playback"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	addr := net.JoinHostPort(cfg.NodeHost, strconv.Itoa(cfg.NodePort))

	player := playback.NewExecPlayer(cfg.PlayerCommand)
	engine := playback.NewEngine(player, cfg.MediaDir, nil)
	server := node.NewServer(engine, nil)

	if err := server.Start(addr); err != nil {
		log.Fatalf("server error: %v", err)
	}
	log.Printf("heartbeat-node listening on %s, media dir %s", addr, cfg.MediaDir)

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, os.Interrupt, syscall.SIGTERM)
	<-shutdownCh

	server.Stop()
}
