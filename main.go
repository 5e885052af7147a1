package main

import (
	"log"

	"github.com/zokiio/proximity-voice/internal/client"
)

func main() {
	cleanup, err := client.InitLogging()
	if err != nil {
		log.Printf("Logging setup failed: %v", err)
	} else {
		defer cleanup()
	}

	cfg, err := client.LoadClientConfig()
	if err != nil {
		log.Printf("[CONFIG] Using defaults: %v", err)
	}

	voiceClient := client.NewVoiceClient(cfg)
	gui := client.NewGUI(voiceClient, cfg)
	gui.Run()
}
