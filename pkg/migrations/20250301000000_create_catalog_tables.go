package migrations

import (
	"context"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

func init() {
	up := func(_ context.Context, db *bun.DB) error {
		_, err := db.Exec(`
			CREATE TABLE hive_book (
				id TEXT PRIMARY KEY,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				title TEXT NOT NULL,
				authors TEXT NOT NULL,
				source TEXT NOT NULL,
				source_url TEXT,
				source_id TEXT,
				cover TEXT,
				thumbnail TEXT NOT NULL,
				description TEXT,
				rating INTEGER,
				rating_count INTEGER,
				meta TEXT,
				genres TEXT,
				series TEXT,
				identifiers TEXT,
				enriched_at TIMESTAMPTZ
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE INDEX ix_hive_book_source_id ON hive_book (source, source_id)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE INDEX ix_hive_book_updated_at ON hive_book (updated_at)`)
		if err != nil {
			return errors.WithStack(err)
		}

		_, err = db.Exec(`
			CREATE TABLE hive_book_genre (
				hive_id TEXT REFERENCES hive_book (id) ON DELETE CASCADE NOT NULL,
				genre TEXT NOT NULL,
				PRIMARY KEY (hive_id, genre)
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE INDEX ix_hive_book_genre_genre ON hive_book_genre (genre)`)
		if err != nil {
			return errors.WithStack(err)
		}

		_, err = db.Exec(`
			CREATE TABLE book_id_map (
				hive_id TEXT PRIMARY KEY REFERENCES hive_book (id) ON DELETE CASCADE,
				isbn10 TEXT,
				isbn13 TEXT,
				goodreads_id TEXT,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		for _, col := range []string{"isbn10", "isbn13", "goodreads_id"} {
			_, err = db.Exec(`CREATE INDEX ix_book_id_map_` + col + ` ON book_id_map (` + col + `)`)
			if err != nil {
				return errors.WithStack(err)
			}
		}

		return nil
	}

	down := func(_ context.Context, db *bun.DB) error {
		for _, table := range []string{"book_id_map", "hive_book_genre", "hive_book"} {
			if _, err := db.Exec("DROP TABLE IF EXISTS " + table); err != nil {
				return errors.WithStack(err)
			}
		}
		return nil
	}

	Migrations.MustRegister(up, down)
}
