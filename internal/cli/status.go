package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rdelgatto/jobagent/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status <instance-id>",
	Short: "Show a job instance's status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid instance id %q", args[0])
		}

		st, err := store.NewSQLiteStore(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Close()

		inst, err := st.GetInstance(cmd.Context(), id)
		if err != nil {
			return err
		}

		fmt.Printf("instance %d  job %d  status %s\n", inst.ID, inst.JobID, inst.Status)
		if inst.AgentID != "" {
			fmt.Printf("agent   %s\n", inst.AgentID)
		}
		if inst.StartedAt != nil {
			fmt.Printf("started %s\n", inst.StartedAt.Format("2006-01-02 15:04:05"))
		}
		if inst.CompletedAt != nil {
			fmt.Printf("ended   %s\n", inst.CompletedAt.Format("2006-01-02 15:04:05"))
		}
		if inst.ErrorDetail != "" {
			fmt.Printf("error   %s\n", inst.ErrorDetail)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
