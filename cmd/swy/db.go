package main

import (
	"fmt"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/switchyard-ci/switchyard/internal/config"
	"github.com/switchyard-ci/switchyard/internal/db"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(newDBInitCmd())
	cmd.AddCommand(newDBMigrateCmd())
	return cmd
}

func newDBInitCmd() *cobra.Command {
	var (
		configPath     string
		promptPassword bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the Switchyard database",
		Long:  "Creates the MySQL database, migrates all tables, and seeds configured builders.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBInit(cmd, configPath, promptPassword)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchyard.yaml", "path to Switchyard config file")
	cmd.Flags().BoolVar(&promptPassword, "prompt-password", false, "prompt for the database password instead of reading config")
	return cmd
}

func runDBInit(cmd *cobra.Command, configPath string, promptPassword bool) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	fmt.Fprintf(out, "Loaded config %q from %s\n", cfg.Title, configPath)

	opts := connectOpts(cfg)
	if promptPassword {
		password, err := readPassword(cmd)
		if err != nil {
			return err
		}
		opts.Password = password
	}

	adminDB, err := db.ConnectAdmin(opts)
	if err != nil {
		return fmt.Errorf("connect to MySQL at %s:%d: %w", opts.Host, opts.Port, err)
	}
	fmt.Fprintf(out, "Connected to MySQL at %s:%d\n", opts.Host, opts.Port)

	if err := db.CreateDatabase(adminDB, opts.Database); err != nil {
		return err
	}
	fmt.Fprintf(out, "Database %s ready\n", opts.Database)

	gormDB, err := db.Connect(opts)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", opts.Database, err)
	}

	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	fmt.Fprintf(out, "Migrated %d tables\n", len(db.AllModels()))

	store := db.NewStore(gormDB)
	for _, b := range cfg.Builders {
		if _, err := store.EnsureBuilder(b.Name, b.Tags); err != nil {
			return fmt.Errorf("seed builder %q: %w", b.Name, err)
		}
	}
	if len(cfg.Builders) > 0 {
		fmt.Fprintf(out, "Seeded %d builders:", len(cfg.Builders))
		for _, b := range cfg.Builders {
			fmt.Fprintf(out, " %s", b.Name)
		}
		fmt.Fprintln(out)
	}

	fmt.Fprintln(out, "\nSwitchyard database initialized successfully.")
	return nil
}

func newDBMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations to an existing database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			gormDB, err := db.Connect(connectOpts(cfg))
			if err != nil {
				return err
			}
			if err := db.AutoMigrate(gormDB); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Migrated %d tables\n", len(db.AllModels()))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchyard.yaml", "path to Switchyard config file")
	return cmd
}

func connectOpts(cfg *config.Config) db.ConnectOpts {
	return db.ConnectOpts{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
	}
}

// readPassword reads a password without echo when stdin is a terminal.
func readPassword(cmd *cobra.Command) (string, error) {
	fmt.Fprint(cmd.OutOrStdout(), "Database password: ")
	fd := int(syscall.Stdin)
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("stdin is not a terminal; set the password in config instead")
	}
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(cmd.OutOrStdout())
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(raw), nil
}
