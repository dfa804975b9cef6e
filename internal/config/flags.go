package config

import (
	"flag"
	"os"

	"github.com/akorchak/notekeeper/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-d string   SQLite DSN of the live store
//	-b string   backup artifact directory
//	-w int      import worker count
//
// The function filters os.Args to only include the flags it knows about,
// using flagx.FilterArgs, to avoid interference with other components.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-d", "-b", "-w"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.DatabaseDSN, "d", cfg.DatabaseDSN, "SQLite DSN of the live store")
	fs.StringVar(&cfg.BackupDir, "b", cfg.BackupDir, "backup artifact directory")
	fs.IntVar(&cfg.ImportWorkers, "w", cfg.ImportWorkers, "import worker count")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
