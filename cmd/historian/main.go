// cmd/historian/main.go
package main

import (
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"eightsync/internal/historian"
)

func main() {
	log := logrus.New()
	log.SetLevel(logrus.InfoLevel)

	svc, err := historian.New(log)
	if err != nil {
		log.WithError(err).Fatal("historian init failed")
	}
	go svc.Run()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	svc.Stop()
	log.Info("historian shutdown complete")
}
