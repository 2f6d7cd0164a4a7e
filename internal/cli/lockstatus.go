package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pablasso/taskd/internal/config"
	"github.com/pablasso/taskd/internal/lifecycle"
)

var lockStatusCmd = &cobra.Command{
	Use:   "lock-status",
	Short: "Print the daemon lock file's pid and whether it is live",
	RunE:  runLockStatus,
}

func runLockStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	lock := lifecycle.NewLock(cfg.DataDir)
	pid, live, err := lock.Status()
	if err != nil {
		return err
	}
	if pid == 0 {
		fmt.Println("no lock file present; taskd is not running")
		return nil
	}
	if live {
		fmt.Printf("taskd is running (pid %d)\n", pid)
	} else {
		fmt.Printf("stale lock file found (pid %d is not running)\n", pid)
	}
	return nil
}
