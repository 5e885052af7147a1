//go:build !cgo
// +build !cgo

package client

import (
	"log"
	"os"
	"os/signal"
	"syscall"
)

// GUI without cgo connects with the saved configuration and runs until
// interrupted.
type GUI struct {
	voiceClient *VoiceClient
	config      ClientConfig
}

func NewGUI(client *VoiceClient, cfg ClientConfig) *GUI {
	return &GUI{voiceClient: client, config: cfg}
}

func (gui *GUI) Run() {
	cfg := gui.config
	host, port, err := parseServerAddress(cfg.Server, cfg.Port)
	if err != nil {
		log.Printf("Invalid server: %v", err)
		return
	}
	if err := gui.voiceClient.Connect(host, port, cfg.Username, cfg.SpeakerLabel); err != nil {
		log.Printf("Connect failed: %v", err)
		return
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	gui.voiceClient.Disconnect()
}
