package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/Additional-Code/chefeye/internal/admission"
	"github.com/Additional-Code/chefeye/internal/app"
	"github.com/Additional-Code/chefeye/internal/cache"
	"github.com/Additional-Code/chefeye/internal/migration"
	"github.com/Additional-Code/chefeye/internal/seeder"
)

// NewRootCommand builds the root chefeye CLI command.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "chefeye",
		Short: "Chefeye order service toolkit",
	}

	root.AddCommand(newStartCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newSeedCmd())
	root.AddCommand(newWorkerCmd())
	root.AddCommand(newCountersCmd())

	return root
}

// Execute runs the chefeye CLI.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return err
	}
	return nil
}

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "start",
		Aliases: []string{"run"},
		Short:   "Run the HTTP and gRPC services",
		RunE: func(cmd *cobra.Command, args []string) error {
			application := fx.New(app.Module)
			if err := application.Start(cmd.Context()); err != nil {
				return err
			}
			<-cmd.Context().Done()
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return application.Stop(stopCtx)
		},
	}
}

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			var mig *migration.Migrator
			opts := fx.Options(app.Core, migration.Module, fx.Populate(&mig))
			return runWithApp(cmd.Context(), opts, func(ctx context.Context) error {
				if err := mig.Up(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
				return nil
			})
		},
	}

	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Rollback migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, _ := cmd.Flags().GetInt("steps")
			all, _ := cmd.Flags().GetBool("all")
			var mig *migration.Migrator
			opts := fx.Options(app.Core, migration.Module, fx.Populate(&mig))
			return runWithApp(cmd.Context(), opts, func(ctx context.Context) error {
				if err := mig.Down(ctx, steps, all); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations rolled back")
				return nil
			})
		},
	}
	downCmd.Flags().Int("steps", 1, "Number of migration steps to rollback")
	downCmd.Flags().Bool("all", false, "Rollback all applied migrations")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "List migrations and whether they are applied",
		RunE: func(cmd *cobra.Command, args []string) error {
			var mig *migration.Migrator
			opts := fx.Options(app.Core, migration.Module, fx.Populate(&mig))
			return runWithApp(cmd.Context(), opts, func(ctx context.Context) error {
				versions, err := mig.Status(ctx)
				if err != nil {
					return err
				}
				printMigrations(cmd.OutOrStdout(), versions)
				return nil
			})
		},
	}

	cmd.AddCommand(upCmd, downCmd, statusCmd)
	return cmd
}

func printMigrations(w io.Writer, versions []migration.AppliedVersion) {
	for _, v := range versions {
		state := "pending"
		if v.Applied {
			state = "applied"
		}
		fmt.Fprintf(w, "%05d\t%s\n", v.Version, state)
	}
}

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Seed the starter menu",
		RunE: func(cmd *cobra.Command, args []string) error {
			var seed *seeder.Seeder
			opts := fx.Options(app.Core, seeder.Module, fx.Populate(&seed))
			return runWithApp(cmd.Context(), opts, func(ctx context.Context) error {
				if err := seed.MenuItems(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "seed data applied")
				return nil
			})
		},
	}
}

func newWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Manage background workers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run worker engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			application := fx.New(app.Worker)
			if err := application.Start(cmd.Context()); err != nil {
				return err
			}
			<-cmd.Context().Done()
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return application.Stop(stopCtx)
		},
	})
	return cmd
}

func newCountersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "counters",
		Short: "Inspect and rebuild the shift admission counters",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "reconcile",
		Short: "Recount today's shift counters from the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			var initializer *admission.Initializer
			opts := fx.Options(app.Core, fx.Populate(&initializer))
			return runWithApp(cmd.Context(), opts, func(ctx context.Context) error {
				baselines, err := initializer.Initialize(ctx)
				if err != nil {
					return err
				}
				for _, b := range baselines {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", b.Key, b.Count)
				}
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print today's shift counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				counter cache.Counter
				scheme  admission.KeyScheme
			)
			opts := fx.Options(app.Core, fx.Populate(&counter, &scheme))
			return runWithApp(cmd.Context(), opts, func(ctx context.Context) error {
				return printCounters(ctx, cmd.OutOrStdout(), counter, scheme, time.Now())
			})
		},
	})

	return cmd
}

func printCounters(ctx context.Context, out io.Writer, counter cache.Counter, scheme admission.KeyScheme, now time.Time) error {
	current := scheme.Key(admission.Classify(now))
	for _, w := range scheme.Windows(now) {
		value, err := counter.Get(ctx, w.Key)
		if err != nil {
			return err
		}
		marker := ""
		if w.Key == current {
			marker = "\t(current)"
		}
		fmt.Fprintf(out, "%s\t%d%s\n", w.Key, value, marker)
	}
	return nil
}

func runWithApp(ctx context.Context, opts fx.Option, fn func(context.Context) error) error {
	application := fx.New(opts, fx.NopLogger)
	if err := application.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = application.Stop(stopCtx)
	}()
	return fn(ctx)
}
