package sqlite3

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
		want string
	}{
		{name: "default is memory", want: ":memory:"},
		{name: "raw dsn wins", opts: []Option{WithPath("a.db"), WithDSN("file:b.db")}, want: "file:b.db"},
		{
			name: "path gets pragmas",
			opts: []Option{WithPath("data/x.db"), WithBusyTimeout(2 * time.Second)},
			want: "file:data/x.db?_busy_timeout=2000&_foreign_keys=on&_journal_mode=WAL",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := newConfig(tt.opts...).dsn(); got != tt.want {
				t.Errorf("dsn() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWithTx(t *testing.T) {
	ctx := context.Background()
	db, err := New(ctx, WithPath(filepath.Join(t.TempDir(), "tx.db")))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, "CREATE TABLE t (v INTEGER)"); err != nil {
		t.Fatalf("create table: %v", err)
	}

	withTx := WithTx(db.DB, nil)

	err = withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, "INSERT INTO t (v) VALUES (1)"); err != nil {
			return err
		}
		return errors.New("boom")
	})
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("withTx() error = %v, want boom", err)
	}

	err = withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, "INSERT INTO t (v) VALUES (2)")
		return err
	})
	if err != nil {
		t.Fatalf("withTx() error = %v", err)
	}

	var values []int
	if err := db.SelectContext(ctx, &values, "SELECT v FROM t"); err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(values) != 1 || values[0] != 2 {
		t.Errorf("rows = %v, want [2]", values)
	}

	if err := db.Ping(ctx, time.Second); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}
