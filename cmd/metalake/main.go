// Command metalake runs the metadata catalog service tooling: bootstrap,
// background task execution, credential rotation and decommissioning.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"metalake/internal/config"
	"metalake/internal/db"
	"metalake/internal/db/crypto"
	"metalake/internal/db/repository"
	"metalake/internal/domain"
	"metalake/internal/service/metastore"
	"metalake/internal/service/tasks"
)

func main() {
	os.Exit(run())
}

func run() int {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "metalake",
		Short:         "Metadata catalog service",
		Long:          "Transactional metadata catalog: entities, grants, policies, credentials and background tasks.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return config.LoadDotEnv(".env")
		},
	}
	rootCmd.AddCommand(newBootstrapCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newRotateCmd())
	rootCmd.AddCommand(newPurgeCmd())
	rootCmd.AddCommand(newCommandsCmd(rootCmd))
	return rootCmd
}

func newCommandsCmd(root *cobra.Command) *cobra.Command {
	return &cobra.Command{
		Use:    "commands",
		Short:  "List all commands and their flags",
		Hidden: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, child := range root.Commands() {
				if child.Hidden || child.Name() == "help" || child.Name() == "completion" {
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", child.Name(), child.Short)
				child.Flags().VisitAll(func(f *pflag.Flag) {
					if f.Hidden || f.Name == "help" {
						return
					}
					fmt.Fprintf(cmd.OutOrStdout(), "  --%s (%s)\t%s\n", f.Name, f.Value.Type(), f.Usage)
				})
			}
			return nil
		},
	}
}

// app bundles the wired service components behind one Close.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	writeDB *sql.DB
	readDB  *sql.DB
	manager *metastore.Manager
}

func (a *app) Close() {
	_ = a.readDB.Close()
	_ = a.writeDB.Close()
}

func setup() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}

	writeDB, readDB, err := db.OpenPair(cfg.MetaDBPath, cfg.ReadPoolSize)
	if err != nil {
		return nil, err
	}
	if err := db.RunMigrations(writeDB); err != nil {
		_ = readDB.Close()
		_ = writeDB.Close()
		return nil, err
	}

	enc, err := crypto.NewEncryptor(cfg.EncryptionKey)
	if err != nil {
		_ = readDB.Close()
		_ = writeDB.Close()
		return nil, err
	}
	store := repository.NewStore(writeDB, readDB, logger, repository.WithEncryptor(enc))
	manager := metastore.NewManager(store, logger, metastore.WithTaskTimeout(cfg.TaskTimeout))

	return &app{cfg: cfg, logger: logger, writeDB: writeDB, readDB: readDB, manager: manager}, nil
}

func newBootstrapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap",
		Short: "Initialize the service and print the root credentials",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.manager.BootstrapService(cmd.Context())
			if err != nil {
				return err
			}
			if res.Status == domain.StatusEntityAlreadyExists {
				fmt.Fprintln(cmd.OutOrStdout(), "service is already bootstrapped")
				return nil
			}
			if !res.IsSuccess() {
				return fmt.Errorf("bootstrap failed: %s", res.Status)
			}
			// The plaintext secret is shown exactly once.
			fmt.Fprintf(cmd.OutOrStdout(), "root principal id: %d\nclient id:         %s\nclient secret:     %s\n",
				res.Principal.ID, res.Secrets.ClientID, res.Secrets.MainSecret)
			return nil
		},
	}
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the background task executor",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.Close()

			exec, err := tasks.NewExecutor(a.manager, a.logger, tasks.Options{
				ExecutorID: a.cfg.Executor.ID,
				Schedule:   a.cfg.Executor.Schedule,
				BatchSize:  a.cfg.Executor.BatchSize,
				RateLimit:  a.cfg.Executor.RateLimit,
			})
			if err != nil {
				return err
			}
			exec.Register(domain.TaskTypeEntityCleanup, entityCleanupHandler(a.logger))

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if err := exec.Start(ctx); err != nil {
				return err
			}
			<-ctx.Done()
			exec.Stop()
			return nil
		},
	}
}

// entityCleanupHandler finalizes the removal of a dropped entity. The entity
// payload carried on the task is where object-store file deletion would hook
// in; this build only records the completion.
func entityCleanupHandler(logger *slog.Logger) tasks.HandlerFunc {
	return func(_ context.Context, task domain.Entity) error {
		props := domain.DeserializeProperties(task.Properties)
		var dropped domain.Entity
		if err := json.Unmarshal([]byte(props[domain.TaskDataProperty]), &dropped); err != nil {
			return fmt.Errorf("task %d carries no parseable entity: %w", task.ID, err)
		}
		logger.Info("cleaned up dropped entity",
			"task_id", task.ID,
			"entity_id", dropped.ID,
			"entity_type", dropped.Type().String(),
			"entity_name", dropped.Name)
		return nil
	}
}

func newRotateCmd() *cobra.Command {
	var (
		clientID    string
		principalID int64
		reset       bool
	)
	cmd := &cobra.Command{
		Use:   "rotate-credentials",
		Short: "Rotate a principal's credentials and print the new secret",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.manager.RotatePrincipalSecrets(cmd.Context(), clientID, principalID, reset)
			if err != nil {
				return err
			}
			if !res.IsSuccess() {
				return fmt.Errorf("rotation failed: %s", res.Status)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "client id:     %s\nclient secret: %s\n",
				res.Secrets.ClientID, res.Secrets.MainSecret)
			return nil
		},
	}
	cmd.Flags().StringVar(&clientID, "client-id", "", "client id of the principal")
	cmd.Flags().Int64Var(&principalID, "principal-id", 0, "id of the principal")
	cmd.Flags().BoolVar(&reset, "reset", false, "invalidate the previous secret immediately")
	_ = cmd.MarkFlagRequired("client-id")
	_ = cmd.MarkFlagRequired("principal-id")
	return cmd
}

func newPurgeCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete every record in the metastore",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !force {
				return fmt.Errorf("purge is irreversible; pass --force to confirm")
			}
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.manager.Purge(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "metastore purged")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "confirm the purge")
	return cmd
}
