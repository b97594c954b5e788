package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rdelgatto/jobagent/internal/store"
)

var logsCmd = &cobra.Command{
	Use:   "logs <instance-id>",
	Short: "Print a job instance's log, newest first",
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

		if _, err := st.GetInstance(cmd.Context(), id); err != nil {
			return err
		}
		entries, err := st.ListLogEntries(cmd.Context(), id)
		if err != nil {
			return err
		}

		for _, e := range entries {
			fmt.Printf("%s  %-7s  %-20s  %s\n",
				e.Timestamp.Format("2006-01-02 15:04:05"), e.Level, e.Action, e.Details)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(logsCmd)
}
