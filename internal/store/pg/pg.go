// Package pg implements store.Repository against Postgres via
// database/sql using the pgx/v5 stdlib driver — the same driver form
// the teacher repo uses (internal/store/pg/*.go), rather than pgx's
// native pool API, so the rest of this package reads like the
// teacher's own store/pg files.
package pg

import (
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/nextlevelbuilder/waorchestrator/internal/store"
)

// Store implements store.Repository against a single *sql.DB handle.
// Grounded on internal/store/pg/sessions.go's upsert + re-read race
// handling, generalized from the teacher's single "sessions" blob
// table to the full relational schema spec.md §3/§6 describes.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func nilStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func marshalJSON(v interface{}) []byte {
	if v == nil {
		return []byte("null")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("null")
	}
	return data
}

func jsonUnmarshalStrings(data []byte, out *[]string) error {
	return json.Unmarshal(data, out)
}

func unmarshalJSONMap(data []byte) map[string]interface{} {
	if len(data) == 0 {
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}

// isUniqueViolation reports whether err is a Postgres unique_violation
// (SQLSTATE 23505), the race store.ErrAlreadyExists wraps.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	type sqlstater interface{ SQLState() string }
	if se, ok := err.(sqlstater); ok {
		return se.SQLState() == "23505"
	}
	// driver-agnostic fallback: pgconn.PgError implements Error() with
	// the SQLSTATE embedded; a substring check keeps this independent
	// of importing jackc/pgconn directly for a single code comparison.
	msg := err.Error()
	return strings.Contains(msg, "SQLSTATE 23505") || strings.Contains(msg, "duplicate key value")
}

var _ store.Repository = (*Store)(nil)
