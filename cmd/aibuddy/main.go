package main

import (
	"fmt"
	"os"

	"github.com/bdobrica/aibuddy/common/version"
	"github.com/bdobrica/aibuddy/internal/aibuddy/app"
	"github.com/bdobrica/aibuddy/internal/aibuddy/config"
)

func main() {
	fmt.Printf("AiBuddy\n")
	fmt.Printf("Version: %s\n", version.Version)
	fmt.Printf("Commit: %s\n", version.GitCommit)
	fmt.Printf("Build Time: %s\n", version.BuildTime)
	fmt.Println()

	// Load configuration from the environment and the optional config file.
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Create application
	bot, err := app.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize AiBuddy: %v\n", err)
		os.Exit(1)
	}
	defer bot.Stop()

	// Run application
	if err := bot.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running AiBuddy: %v\n", err)
		os.Exit(1)
	}
}
