package cli

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rdelgatto/jobagent/internal/api"
	"github.com/rdelgatto/jobagent/internal/blob"
	"github.com/rdelgatto/jobagent/internal/coordinator"
	"github.com/rdelgatto/jobagent/internal/deps"
	"github.com/rdelgatto/jobagent/internal/jobpkg"
	"github.com/rdelgatto/jobagent/internal/model"
	"github.com/rdelgatto/jobagent/internal/queue"
	"github.com/rdelgatto/jobagent/internal/runner"
	"github.com/rdelgatto/jobagent/internal/store"
	"github.com/rdelgatto/jobagent/internal/toolexec"
	"github.com/rdelgatto/jobagent/internal/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the job execution loop and the ops server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		agentID := model.NewAgentID()
		logger.Info("jobagent: starting",
			"agent_id", agentID,
			"queue", cfg.QueueName,
			"listen_addr", cfg.ListenAddr,
			"db_path", cfg.DBPath,
		)

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

		blobs, err := blob.NewFSStore(cfg.BlobDir)
		if err != nil {
			return fmt.Errorf("open blob store: %w", err)
		}

		cache, err := deps.NewCache(filepath.Join(cfg.CacheDir, "index.db"), filepath.Join(cfg.CacheDir, "wheels"))
		if err != nil {
			return fmt.Errorf("open artifact cache: %w", err)
		}
		defer cache.Close()

		exec := toolexec.ExecRunner{}
		resolver := deps.NewResolver(cache, map[string]deps.ResolveTool{
			deps.RuntimeDotnet: &deps.NuGetTool{
				DotnetBin:   cfg.DotnetBin,
				PackagesDir: filepath.Join(cfg.CacheDir, "nuget"),
				Run:         exec,
			},
			deps.RuntimePython: &deps.PipTool{
				PythonBin: cfg.PythonBin,
				WheelDir:  cache.Dir(),
				Run:       exec,
			},
		}, logger)

		runners := runner.NewRegistry()
		runners.Register(&runner.CSharpRunner{DotnetBin: cfg.DotnetBin, Exec: exec, Logger: logger})
		runners.Register(&runner.PythonRunner{PythonBin: cfg.PythonBin, WheelDir: cache.Dir(), Exec: exec, Logger: logger})

		coord := &coordinator.Coordinator{
			Queue:    q,
			Store:    st,
			Fetcher:  jobpkg.NewFetcher(blobs, cfg.WorkDir, logger),
			Resolver: resolver,
			Runners:  runners,
			Cfg:      cfg,
			Logger:   logger,
			AgentID:  agentID,
		}

		w := &worker.Worker{
			Queue:       q,
			Coordinator: coord,
			QueueName:   cfg.QueueName,
			Lease:       cfg.Lease,
			IdleBackoff: cfg.IdleBackoff,
			Logger:      logger,
		}

		srv := api.NewServer(cfg.ListenAddr, st, agentID, cfg.QueueName, logger)
		srvErr := make(chan error, 1)
		go func() {
			srvErr <- srv.Run(ctx)
		}()

		w.Run(ctx)

		if err := <-srvErr; err != nil {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
