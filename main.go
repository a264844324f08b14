package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"csmbot/cmd"
	"csmbot/config"
	"csmbot/database"
	"csmbot/domain/entities"
)

// Exit codes
const (
	exitFailure        = 1
	exitCorruptStorage = 2
)

var errMigrateNeedsPostgres = errors.New("migrations only apply to the postgres storage backend")

func main() {
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if err := runMigrate(os.Args[2:], config.StorageBackendFromEnv()); err != nil {
			log.Fatal("Migration error: ", err)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cmd.Run(ctx)
	stop()

	switch {
	case err == nil:
		log.Println("Shutdown completed")
	case errors.Is(err, entities.ErrStorageCorruption):
		log.Printf("Guild settings are corrupted, refusing to start: %v", err)
		os.Exit(exitCorruptStorage)
	default:
		log.Printf("Application error: %v", err)
		os.Exit(exitFailure)
	}
}

// runMigrate executes `csmbot migrate <up|down [steps]|status>`
func runMigrate(args []string, backend string) error {
	if backend != config.StorageBackendPostgres {
		return fmt.Errorf("%w (STORAGE_BACKEND=%s)", errMigrateNeedsPostgres, backend)
	}
	if len(args) == 0 {
		return fmt.Errorf("usage: csmbot migrate [up|down [steps]|status]")
	}

	switch args[0] {
	case "up":
		return database.MigrateUp()
	case "down":
		steps := "1"
		if len(args) > 1 {
			steps = args[1]
		}
		return database.MigrateDown(steps)
	case "status":
		return database.MigrateStatus()
	default:
		return fmt.Errorf("unknown migration command: %s", args[0])
	}
}
