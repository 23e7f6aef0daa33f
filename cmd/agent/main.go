package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"desktop-telemetry-agent/internal/agent"
	"desktop-telemetry-agent/internal/config"
)

func main() {
	configPath := flag.String("config", config.DefaultPath(), "path to the settings file")
	check := flag.Bool("check", false, "validate settings, send one heartbeat and exit")
	setToken := flag.Bool("set-token", false, "read an API token from stdin and store it for this device")
	forgetToken := flag.Bool("forget-token", false, "delete the stored API token for this device")
	showVersion := flag.Bool("version", false, "print the agent version")
	flag.Parse()

	if *showVersion {
		fmt.Println(config.Version)
		return
	}

	store, err := config.OpenStore(*configPath)
	if err != nil {
		log.Fatalf("open settings: %v", err)
	}
	cfg := config.Load(store)
	logger := agent.BuildLogger(cfg)

	creds, err := agent.NewCredentialProvider(cfg)
	if err != nil {
		logger.Error("credential store unavailable", "provider", cfg.CredentialProvider, "error", err)
		os.Exit(1)
	}

	switch {
	case *setToken:
		token, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && token == "" {
			logger.Error("read token from stdin", "error", err)
			os.Exit(1)
		}
		if err := creds.Save(context.Background(), strings.TrimSpace(token)); err != nil {
			logger.Error("store token failed", "device_id", cfg.DeviceID, "error", err)
			os.Exit(1)
		}
		logger.Info("token stored", "device_id", cfg.DeviceID, "provider", cfg.CredentialProvider)
		return
	case *forgetToken:
		if err := creds.Forget(context.Background()); err != nil {
			logger.Error("delete token failed", "device_id", cfg.DeviceID, "error", err)
			os.Exit(1)
		}
		logger.Info("token deleted", "device_id", cfg.DeviceID)
		return
	}

	a, err := agent.New(cfg, creds, logger)
	if err != nil {
		logger.Error("agent initialization failed", "error", err)
		os.Exit(1)
	}

	if *check {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout*time.Duration(cfg.MaxUploadAttempts)+cfg.RetryMaxBackoff)
		defer cancel()
		if err := a.Check(ctx); err != nil {
			logger.Error("connection check failed", "error", err)
			cancel()
			os.Exit(1)
		}
		return
	}

	if err := a.Run(context.Background()); err != nil {
		logger.Error("agent runtime failed", "error", err)
		os.Exit(1)
	}
}
