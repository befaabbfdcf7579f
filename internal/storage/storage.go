package storage

import (
	"reflect"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"kurut-provisioner/internal/infra/sqlite3"
)

type storageImpl struct {
	db     *sqlx.DB
	now    func() time.Time
	withTx sqlite3.TxManager
}

func New(db *sqlx.DB) *storageImpl {
	return &storageImpl{
		db:     db,
		now:    func() time.Time { return time.Now().UTC() },
		withTx: sqlite3.WithTx(db, nil),
	}
}

func (s *storageImpl) stmpBuilder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(sq.Question)
}

// fields lists the db-tagged columns of a row struct for SELECT clauses.
func fields(row any) string {
	t := reflect.TypeOf(row)
	cols := make([]string, 0, t.NumField())
	for i := range t.NumField() {
		if tag := t.Field(i).Tag.Get("db"); tag != "" {
			cols = append(cols, tag)
		}
	}
	return strings.Join(cols, ", ")
}
