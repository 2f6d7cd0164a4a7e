package cli

import (
	"github.com/spf13/cobra"

	"github.com/pablasso/taskd/internal/tui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Live dashboard of queue stats, the running task, and recent history",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	q, _, closeFn, err := openQueue()
	if err != nil {
		return err
	}
	defer closeFn()

	return tui.Run(q)
}
