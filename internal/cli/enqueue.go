package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rdelgatto/jobagent/internal/model"
	"github.com/rdelgatto/jobagent/internal/queue"
	"github.com/rdelgatto/jobagent/internal/store"
)

var (
	enqueueJobID         int64
	enqueueEnvironment   string
	enqueueWebhookParams string
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Create a job instance and enqueue its trigger message",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := store.NewSQLiteStore(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Close()

		q, err := queue.NewSQLiteQueue(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open queue: %w", err)
		}
		defer q.Close()

		// The instance row exists before the message: a worker that receives
		// the message must always find something to claim.
		now := time.Now().UTC()
		inst := &model.JobInstance{
			JobID:     enqueueJobID,
			Status:    model.StatusQueued,
			CreatedAt: now,
		}
		if err := st.CreateInstance(ctx, inst); err != nil {
			return fmt.Errorf("create instance: %w", err)
		}

		wire := &model.QueueMessage{
			JobInstanceID:     inst.ID,
			JobID:             enqueueJobID,
			JobEnvironment:    enqueueEnvironment,
			JobQueueName:      cfg.QueueName,
			WebhookParameters: enqueueWebhookParams,
			QueuedAt:          now,
		}
		body, err := wire.EncodeBody()
		if err != nil {
			return fmt.Errorf("encode message: %w", err)
		}
		if err := q.Enqueue(ctx, cfg.QueueName, body); err != nil {
			return fmt.Errorf("enqueue: %w", err)
		}

		fmt.Printf("enqueued instance %d for job %d on queue %q\n", inst.ID, enqueueJobID, cfg.QueueName)
		return nil
	},
}

func init() {
	enqueueCmd.Flags().Int64Var(&enqueueJobID, "job", 0, "job id to run")
	enqueueCmd.Flags().StringVar(&enqueueEnvironment, "env-name", "Production", "environment name for settings selection")
	enqueueCmd.Flags().StringVar(&enqueueWebhookParams, "webhook-params", "", "opaque webhook parameters passed through to the instance")
	enqueueCmd.MarkFlagRequired("job")
	rootCmd.AddCommand(enqueueCmd)
}
