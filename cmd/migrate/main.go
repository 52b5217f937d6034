// Command migrate manages the Postgres schema from the SQL files under
// migrations/.
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/weirdTDD/orderflow/internal/config"
)

const versionTimeFormat = "20060102150405"

var dir string

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{Use: "migrate", Short: "manage the database schema"}
	root.PersistentFlags().StringVar(&dir, "dir", "migrations", "directory holding the SQL migrations")
	root.AddCommand(createCommand(), upCommand(), downCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func createCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "create [name]",
		Short: "create an empty up/down migration pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version := time.Now().UTC().Format(versionTimeFormat)
			for _, suffix := range []string{"up", "down"} {
				path := fmt.Sprintf("%s/%s_%s.%s.sql", dir, version, args[0], suffix)
				if err := os.WriteFile(path, []byte{}, 0o644); err != nil {
					return errors.Wrap(err, "write migration")
				}
				fmt.Println("created", path)
			}
			return nil
		},
	}
}

func upCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := open()
			if err != nil {
				return err
			}
			if err := m.Up(); err != nil {
				if errors.Is(err, migrate.ErrNoChange) {
					fmt.Println("schema already up to date")
					return nil
				}
				return errors.Wrap(err, "migrate up")
			}
			fmt.Println("migrated up")
			return nil
		},
	}
}

func downCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "roll back the most recent migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := open()
			if err != nil {
				return err
			}
			if err := m.Steps(-1); err != nil {
				if errors.Is(err, migrate.ErrNoChange) {
					fmt.Println("nothing to roll back")
					return nil
				}
				return errors.Wrap(err, "migrate down")
			}
			fmt.Println("rolled back one migration")
			return nil
		},
	}
}

func open() (*migrate.Migrate, error) {
	cfg, err := config.Load("migrate")
	if err != nil {
		return nil, err
	}
	// golang-migrate picks its database driver from the URL scheme.
	dsn := strings.Replace(cfg.PostgresDSN, "postgres://", "pgx5://", 1)
	m, err := migrate.New("file://"+dir, dsn)
	return m, errors.Wrap(err, "open migrator")
}
