package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bookhive/bookhive/pkg/config"
	"github.com/bookhive/bookhive/pkg/database"
	"github.com/bookhive/bookhive/pkg/joblogs"
	"github.com/bookhive/bookhive/pkg/migrations"
	"github.com/bookhive/bookhive/pkg/search"
	"github.com/robinjoseph08/golib/logger"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
	"github.com/urfave/cli/v2"
)

func main() {
	log := logger.New()

	cfg, err := config.New()
	if err != nil {
		log.Err(err).Fatal("config error")
	}

	db, err := database.New(cfg)
	if err != nil {
		log.Err(err).Fatal("database error")
	}
	defer db.Close()

	migrator := migrate.NewMigrator(db, migrations.Migrations)

	app := &cli.App{
		Name:  "migrations",
		Usage: "manage the BookHive schema and derived data",
		Commands: []*cli.Command{
			schemaCommand("init", "create migration tables", func(c *cli.Context) error {
				return migrator.Init(c.Context)
			}),
			schemaCommand("migrate", "apply pending migrations", func(c *cli.Context) error {
				group, err := migrator.Migrate(c.Context)
				return report(group, err, "Migrated to %s\n", "There are no new migrations to run\n")
			}),
			schemaCommand("rollback", "roll back the last migration group", func(c *cli.Context) error {
				group, err := migrator.Rollback(c.Context)
				return report(group, err, "Rolled back %s\n", "There are no groups to roll back\n")
			}),
			schemaCommand("create", "create a Go migration named after the arguments", func(c *cli.Context) error {
				name := strings.Join(c.Args().Slice(), "_")
				mf, err := migrator.CreateGoMigration(c.Context, name, migrate.WithGoTemplate(migrationTemplate))
				if err != nil {
					return err
				}
				fmt.Printf("Created migration %s (%s)\n", mf.Name, mf.Path)
				return nil
			}),
			schemaCommand("status", "print migration status", func(c *cli.Context) error {
				ms, err := migrator.MigrationsWithStatus(c.Context)
				if err != nil {
					return err
				}
				fmt.Printf("Unapplied migrations: %s\n", ms.Unapplied())
				fmt.Printf("Last migration group: %s\n", ms.LastGroup())
				return nil
			}),
			reindexCommand(cfg, db),
			pruneLogsCommand(cfg, db),
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Err(err).Fatal("app run error")
	}
}

func schemaCommand(name, usage string, action cli.ActionFunc) *cli.Command {
	return &cli.Command{Name: name, Usage: usage, Action: action}
}

func report(group *migrate.MigrationGroup, err error, done, noop string) error {
	if err != nil {
		return err
	}
	if group.ID == 0 {
		fmt.Print(noop)
		return nil
	}
	fmt.Printf(done, group)
	return nil
}

func reindexCommand(cfg *config.Config, db *bun.DB) *cli.Command {
	return &cli.Command{
		Name:  "reindex",
		Usage: "rebuild the search index from the catalog",
		Action: func(c *cli.Context) error {
			idx, err := search.Open(cfg.SearchIndexDirectory)
			if err != nil {
				return err
			}
			defer idx.Close()

			n, err := search.NewService(db, idx).Reindex(c.Context)
			if err != nil {
				return err
			}
			fmt.Printf("Indexed %d books\n", n)
			return nil
		},
	}
}

func pruneLogsCommand(cfg *config.Config, db *bun.DB) *cli.Command {
	return &cli.Command{
		Name:  "prune-logs",
		Usage: "delete job logs older than the retention window",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "older-than",
				Usage: "override the configured retention",
				Value: cfg.JobLogRetention,
			},
		},
		Action: func(c *cli.Context) error {
			before := time.Now().Add(-c.Duration("older-than"))
			n, err := joblogs.NewService(db).PruneJobLogs(c.Context, before)
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %d job logs from before %s\n", n, before.Format(time.RFC3339))
			return nil
		},
	}
}

const migrationTemplate = `package %s

import (
	"context"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

func init() {
	up := func(_ context.Context, db *bun.DB) error {
		_, err := db.Exec("")
		return errors.WithStack(err)
	}

	down := func(_ context.Context, db *bun.DB) error {
		_, err := db.Exec("")
		return errors.WithStack(err)
	}

	Migrations.MustRegister(up, down)
}
`
