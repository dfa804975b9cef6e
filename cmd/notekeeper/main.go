package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"golang.org/x/term"

	"github.com/akorchak/notekeeper/internal/common"
	"github.com/akorchak/notekeeper/internal/config"
	"github.com/akorchak/notekeeper/internal/datacore"
	"github.com/akorchak/notekeeper/internal/filex"
	"github.com/akorchak/notekeeper/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.LoadConfig()
	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	if !filepath.IsAbs(cfg.BackupDir) {
		dir, err := filex.EnsureSubdDir(cfg.BackupDir)
		if err != nil {
			log.Printf("%v", err)
			return
		}
		cfg.BackupDir = dir
	}

	db, err := datacore.InitDatabase(ctx, cfg.DatabaseDSN)
	if err != nil {
		log.Printf("%v", err)
		return
	}
	defer db.Close()

	core := datacore.New(db, cfg, logger)

	if pass := readPassphrase(); len(pass) > 0 {
		core.SetEncryptionPassphrase(pass)
		common.WipeByteArray(pass)
		defer core.ClearEncryptionKey()
	}

	if err := core.Run(ctx); err != nil && ctx.Err() == nil {
		log.Printf("%v", err)
	}
}

// readPassphrase prompts for the encryption passphrase when stdin is a
// terminal. Empty input leaves encrypted operations unavailable.
func readPassphrase() []byte {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil
	}
	fmt.Println("Enter encryption passphrase (empty to skip)")
	pass, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		fmt.Println(err.Error())
		return nil
	}
	return pass
}
