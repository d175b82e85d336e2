package migrations

import (
	"context"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

func init() {
	up := func(_ context.Context, db *bun.DB) error {
		// hive_id is deliberately not a foreign key: firehose records can
		// reference books this instance hasn't catalogued yet.
		_, err := db.Exec(`
			CREATE TABLE user_book (
				uri TEXT PRIMARY KEY,
				cid TEXT NOT NULL,
				user_did TEXT NOT NULL,
				hive_id TEXT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				indexed_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				title TEXT NOT NULL,
				authors TEXT NOT NULL,
				cover TEXT,
				thumbnail TEXT,
				status TEXT,
				started_at TEXT,
				finished_at TEXT,
				stars INTEGER,
				review TEXT,
				book_progress TEXT,
				identifiers TEXT
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE INDEX ix_user_book_user_did_hive_id ON user_book (user_did, hive_id)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE INDEX ix_user_book_hive_id ON user_book (hive_id)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE INDEX ix_user_book_indexed_at ON user_book (indexed_at)`)
		if err != nil {
			return errors.WithStack(err)
		}

		_, err = db.Exec(`
			CREATE TABLE buzz (
				uri TEXT PRIMARY KEY,
				cid TEXT NOT NULL,
				user_did TEXT NOT NULL,
				hive_id TEXT NOT NULL,
				comment TEXT NOT NULL,
				parent_uri TEXT NOT NULL,
				parent_cid TEXT NOT NULL,
				book_uri TEXT NOT NULL,
				book_cid TEXT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				indexed_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE INDEX ix_buzz_hive_id ON buzz (hive_id)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE INDEX ix_buzz_book_uri ON buzz (book_uri)`)
		if err != nil {
			return errors.WithStack(err)
		}

		_, err = db.Exec(`
			CREATE TABLE user_follows (
				user_did TEXT NOT NULL,
				following_did TEXT NOT NULL,
				followed_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				is_active BOOLEAN NOT NULL DEFAULT TRUE,
				last_seen_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				PRIMARY KEY (user_did, following_did)
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}

		_, err = db.Exec(`
			CREATE TABLE firehose_cursor (
				id INTEGER PRIMARY KEY,
				time_us INTEGER NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
			)
`)
		return errors.WithStack(err)
	}

	down := func(_ context.Context, db *bun.DB) error {
		for _, table := range []string{"firehose_cursor", "user_follows", "buzz", "user_book"} {
			if _, err := db.Exec("DROP TABLE IF EXISTS " + table); err != nil {
				return errors.WithStack(err)
			}
		}
		return nil
	}

	Migrations.MustRegister(up, down)
}
