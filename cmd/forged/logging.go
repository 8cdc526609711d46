package main

import (
	"os"

	"github.com/jedarden/forge/pkg/log"
)

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

func configPath() (string, string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", "", err
	}
	path, _ := rootCmd.PersistentFlags().GetString("config")
	if path == "" {
		path = home + "/.forge/forge.yaml"
	}
	return path, home, nil
}
