package main

import (
	"log"

	"github.com/director74/sagacore/internal/app"
	"github.com/director74/sagacore/pkg/config"
)

func main() {
	cfg := config.LoadCommonConfig("sagacore", "8080")

	sagaApp, err := app.NewApp(cfg)
	if err != nil {
		log.Fatalf("failed to build saga host: %v", err)
	}

	if err := sagaApp.Run(); err != nil {
		log.Fatalf("saga host exited with error: %v", err)
	}
}
