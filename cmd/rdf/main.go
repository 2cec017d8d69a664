// Command rdf operates a reference data installation from the shell:
// apply migrations, inspect projections, run the notification dispatcher,
// and reset a development database.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rdfkit/rdf/pkg/notify"
	"github.com/rdfkit/rdf/pkg/rdf"
	"github.com/rdfkit/rdf/pkg/store"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	var configFile string

	cmd := &cobra.Command{
		Use:          "rdf",
		Short:        "Temporally versioned reference data over a relational database",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if configFile != "" {
				v.SetConfigFile(configFile)
				if err := v.ReadInConfig(); err != nil {
					return fmt.Errorf("read config: %w", err)
				}
			}
			v.SetEnvPrefix("RDF")
			v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
			v.AutomaticEnv()
			return v.BindPFlags(cmd.Flags())
		},
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (YAML)")
	cmd.PersistentFlags().String("migrations", "", "migration file directory")
	cmd.PersistentFlags().String("db-host", "localhost", "database host")
	cmd.PersistentFlags().Int("db-port", 5432, "database port")
	cmd.PersistentFlags().String("db-user", "rdf", "database user")
	cmd.PersistentFlags().String("db-password", "", "database password")
	cmd.PersistentFlags().String("db-name", "rdf", "database name")
	cmd.PersistentFlags().String("db-sslmode", "disable", "database sslmode")

	cmd.AddCommand(newMigrateCmd(v), newResetCmd(v), newDispatchCmd(v), newProjectionsCmd(v))
	return cmd
}

func buildConfig(v *viper.Viper) (rdf.Config, error) {
	dbCfg := store.DefaultDatabaseConfig()
	dbCfg.Host = v.GetString("db-host")
	dbCfg.Port = v.GetInt("db-port")
	dbCfg.User = v.GetString("db-user")
	dbCfg.Password = v.GetString("db-password")
	dbCfg.Database = v.GetString("db-name")
	dbCfg.SSLMode = v.GetString("db-sslmode")

	notifyCfg, err := notify.ConfigFromEnv()
	if err != nil {
		return rdf.Config{}, err
	}

	return rdf.Config{
		Database:      dbCfg,
		Notifications: notifyCfg,
		Migrations:    v.GetString("migrations"),
		Logger:        slog.New(slog.NewTextHandler(os.Stderr, nil)),
	}, nil
}

func connect(ctx context.Context, v *viper.Viper) (*rdf.RDF, error) {
	cfg, err := buildConfig(v)
	if err != nil {
		return nil, err
	}
	instance := rdf.New(cfg)
	if err := instance.Init(ctx); err != nil {
		return nil, err
	}
	return instance, nil
}

func newMigrateCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Bootstrap the framework schema and apply pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			instance, err := connect(cmd.Context(), v)
			if err != nil {
				return err
			}
			defer instance.Stop(cmd.Context())
			return nil
		},
	}
}

func newResetCmd(v *viper.Viper) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Drop the framework schema and re-apply all migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return fmt.Errorf("refusing to drop the schema without --yes")
			}
			instance, err := connect(cmd.Context(), v)
			if err != nil {
				return err
			}
			defer instance.Stop(cmd.Context())
			return instance.Reset(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the destructive reset")
	return cmd
}

func newDispatchCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "dispatch",
		Short: "Run the notification dispatcher until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			instance, err := connect(ctx, v)
			if err != nil {
				return err
			}
			defer instance.Stop(context.Background())

			instance.Start(ctx)
			<-ctx.Done()
			return nil
		},
	}
}

func newProjectionsCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "projections",
		Short: "List the projections of the installation",
		RunE: func(cmd *cobra.Command, _ []string) error {
			instance, err := connect(cmd.Context(), v)
			if err != nil {
				return err
			}
			defer instance.Stop(cmd.Context())

			projections, err := instance.GetProjections(cmd.Context())
			if err != nil {
				return err
			}
			for _, p := range projections {
				current, err := instance.GetCurrentChangeSet(cmd.Context(), &p)
				if err != nil {
					return err
				}
				line := fmt.Sprintf("%s v%d", p.Name, p.Version)
				if current != nil {
					line += fmt.Sprintf("\tcurrent change set %d (effective %s)", current.ID, current.Effective.Format("2006-01-02"))
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}
}
