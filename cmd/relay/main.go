// cmd/relay/main.go
package main

import (
	"net/http"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"eightsync/internal/config"
	"eightsync/internal/relay"
)

func main() {
	log := logrus.New()
	log.SetLevel(logrus.InfoLevel)

	if err := relay.InitKeys(); err != nil {
		log.WithError(err).Fatal("relay key init failed")
	}

	srv := relay.NewServer(log)

	// Empty rooms older than the idle window are reaped in the background.
	maxIdle := config.EnvDuration("RELAY_ROOM_MAX_IDLE", time.Hour)
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			if n := srv.Store.Reap(maxIdle); n > 0 {
				log.WithField("count", n).Info("reaped idle rooms")
			}
		}
	}()

	addr := config.Env("RELAY_LISTEN_ADDR", ":8080")
	log.Infof("relay listening on %s", addr)
	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		log.WithError(err).Fatal("relay server exited")
	}
}
