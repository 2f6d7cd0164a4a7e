package cli

import (
	"fmt"
	"path/filepath"

	"github.com/pablasso/taskd/internal/config"
	"github.com/pablasso/taskd/internal/queue"
	"github.com/pablasso/taskd/internal/store"
)

// openQueue loads config and opens the Store/Queue pair every command needs.
// Returns the loaded config alongside the Queue, and a close func the
// caller must defer.
func openQueue() (*queue.Queue, config.Config, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	s, err := store.Open(filepath.Join(cfg.DataDir, "taskd.db"))
	if err != nil {
		return nil, config.Config{}, nil, fmt.Errorf("open store: %w", err)
	}
	return queue.New(s), cfg, func() { s.Close() }, nil
}
