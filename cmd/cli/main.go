package main

import (
	"os"
	"strings"

	"github.com/nimasrn/whatsapp-simulator/internal/config"
	"github.com/nimasrn/whatsapp-simulator/pkg/logger"
	"github.com/nimasrn/whatsapp-simulator/pkg/pg"
)

// main.go --env=.env --dir=./migrations
func main() {
	cfg, err := config.Load(getEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	pgConf := pg.Config{
		User:     cfg.PostgresWriteUser,
		Host:     cfg.PostgresWriteHost,
		Port:     cfg.PostgresWritePort,
		Password: cfg.PostgresWritePassword,
		Database: cfg.PostgresWriteDatabase,
	}
	if err := pg.Migrate(pgConf, getMigrationPath()); err != nil {
		logger.Error("migration: error running migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("migration: done")
}

func getEnvPath() string {
	if v, ok := argValue("--env="); ok {
		return v
	}
	if _, err := os.Stat(".env"); err != nil {
		return ""
	}
	return ".env"
}

func getMigrationPath() string {
	if v, ok := argValue("--dir="); ok {
		return v
	}
	return "./migrations"
}

func argValue(flag string) (string, bool) {
	for _, v := range os.Args {
		if strings.HasPrefix(v, flag) {
			s := strings.TrimPrefix(v, flag)
			if _, err := os.Stat(s); err != nil {
				logger.Error("failed to open the passed path, got error"+err.Error(), "flag", flag)
				return "", false
			}
			return s, true
		}
	}
	return "", false
}
