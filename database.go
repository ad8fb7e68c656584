package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	_ "modernc.org/sqlite"
)

type UserRow struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID           string    `bun:",pk"`
	Email        string    `bun:",unique,notnull"`
	PasswordHash string    `bun:",notnull"`
	CreatedAt    time.Time `bun:",nullzero,notnull,default:current_timestamp"`
}

type SessionRow struct {
	bun.BaseModel `bun:"table:sessions,alias:s"`

	Token     string    `bun:",pk"`
	UserID    string    `bun:",notnull"`
	User      *UserRow  `bun:"rel:belongs-to,join:user_id=id"`
	ExpiresAt time.Time `bun:",notnull"`
	CreatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp"`
}

type ImageRow struct {
	bun.BaseModel `bun:"table:images,alias:i"`

	ImageID   string    `bun:",pk"`
	UserID    string    `bun:",notnull"`
	ImageURL  string    `bun:",notnull"`
	CreatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp"`
}

type Database struct {
	db   *bun.DB
	path string
}

func OpenDatabase(path string) (*Database, error) {
	sqldb, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// sqlite only allows a single writer
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())

	ctx := context.Background()

	for _, model := range []any{(*UserRow)(nil), (*SessionRow)(nil), (*ImageRow)(nil)} {
		_, err = db.NewCreateTable().Model(model).IfNotExists().Exec(ctx)
		if err != nil {
			db.Close()

			return nil, fmt.Errorf("failed to create table: %w", err)
		}
	}

	_, err = db.NewCreateIndex().Model((*ImageRow)(nil)).Index("images_user_id_idx").Column("user_id").IfNotExists().Exec(ctx)
	if err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create index: %w", err)
	}

	return &Database{
		db:   db,
		path: path,
	}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

func (d *Database) Path() string {
	return d.path
}

// Snapshot copies the database into path using VACUUM INTO.
func (d *Database) Snapshot(ctx context.Context, path string) error {
	_, err := d.db.ExecContext(ctx, "VACUUM INTO ?", path)

	return err
}
