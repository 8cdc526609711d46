package main

import (
	"fmt"

	"github.com/jedarden/forge/pkg/config"
	"github.com/jedarden/forge/pkg/status"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print every known worker's current status",
	RunE: func(cmd *cobra.Command, _ []string) error {
		path, home, err := configPath()
		if err != nil {
			return fmt.Errorf("resolve home directory: %w", err)
		}
		cfg, err := config.Load(path, home)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		store, err := status.NewStore(cfg.Paths.StatusDir)
		if err != nil {
			return fmt.Errorf("open status store: %w", err)
		}

		workers, err := store.ReadAll()
		if err != nil {
			return fmt.Errorf("read statuses: %w", err)
		}
		if len(workers) == 0 {
			fmt.Println("No workers known.")
			return nil
		}

		for _, w := range workers {
			task := "-"
			if w.CurrentTask != nil {
				task = *w.CurrentTask
			}
			fmt.Printf("%-20s %-12s model=%-16s workspace=%-24s task=%s completed=%d\n",
				w.WorkerID, w.Status, w.Model, w.Workspace, task, w.TasksCompleted)
		}
		return nil
	},
}
