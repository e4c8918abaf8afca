package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/audit-agent/backend/internal/cache/redis"
)

func watchTasksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch-tasks",
		Short: "Print engineer work items as they are published",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rc, err := redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB,
				time.Duration(cfg.Redis.SnapshotTTL)*time.Second)
			if err != nil {
				return fmt.Errorf("watch-tasks: %w", err)
			}
			defer rc.Close()

			tasks, err := rc.SubscribeEngineerTasks(ctx)
			if err != nil {
				return fmt.Errorf("watch-tasks: %w", err)
			}

			fmt.Printf("Listening on %s\n", redis.EngineerTaskChannel)
			for task := range tasks {
				fmt.Printf("[%s] #%d %s from %s: %s\n",
					task.CreatedAt.Format("2006-01-02 15:04:05"), task.ID, task.TaskType, task.UserID, task.RequestDescription)
			}
			return nil
		},
	}
}
