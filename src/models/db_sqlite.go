// Copyright 2017 NDP Systèmes. All Rights Reserved.
// See LICENSE file for full licensing details.

package models

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/hexya-erp/erpkit/src/models/fieldtype"
	"github.com/hexya-erp/erpkit/src/models/operator"
	"github.com/hexya-erp/erpkit/src/tools/exceptions"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
)

// sqliteAdapter is the adapter for embedded SQLite databases. It is meant
// for tests and single node deployments.
type sqliteAdapter struct {
	mu    sync.Mutex
	locks map[string]*Cursor
}

var sqliteOperators = map[operator.Operator]string{
	operator.Equals:         "= ?",
	operator.NotEquals:      "!= ?",
	operator.Contains:       "LIKE ?",
	operator.NotContains:    "NOT LIKE ?",
	operator.Like:           "LIKE ?",
	operator.IContains:      "LIKE ?",
	operator.NotIContains:   "NOT LIKE ?",
	operator.ILike:          "LIKE ?",
	operator.In:             "IN (?)",
	operator.NotIn:          "NOT IN (?)",
	operator.Lower:          "< ?",
	operator.LowerOrEqual:   "<= ?",
	operator.Greater:        "> ?",
	operator.GreaterOrEqual: ">= ?",
}

var sqliteTypes = map[fieldtype.Type]string{
	fieldtype.Binary:    "BLOB",
	fieldtype.Boolean:   "BOOLEAN",
	fieldtype.Char:      "TEXT",
	fieldtype.Date:      "DATE",
	fieldtype.DateTime:  "DATETIME",
	fieldtype.Float:     "REAL",
	fieldtype.Integer:   "INTEGER",
	fieldtype.JSON:      "TEXT",
	fieldtype.Many2One:  "INTEGER",
	fieldtype.Monetary:  "REAL",
	fieldtype.Selection: "TEXT",
	fieldtype.Text:      "TEXT",
}

// connectionString returns the DSN of the database file
func (d *sqliteAdapter) connectionString(params ConnectionParams) string {
	return fmt.Sprintf("file:%s?_foreign_keys=1&_busy_timeout=5000&_journal_mode=WAL", params.DBName)
}

// operatorSQL returns the sql string and placeholders for the given operator.
// LIKE is case insensitive in SQLite so that ilike operators map to LIKE.
func (d *sqliteAdapter) operatorSQL(do operator.Operator, arg interface{}) (string, interface{}) {
	op := sqliteOperators[do]
	if do.IsContains() {
		arg = fmt.Sprintf("%%%v%%", arg)
	}
	return op, arg
}

// typeSQL returns the sql type string for the given Field
func (d *sqliteAdapter) typeSQL(fi *Field) string {
	return sqliteTypes[fi.fieldType]
}

// primaryKeySQL returns the column definition of the id column
func (d *sqliteAdapter) primaryKeySQL() string {
	return "INTEGER PRIMARY KEY AUTOINCREMENT"
}

// quoteTableName returns the given table name with sql quotes
func (d *sqliteAdapter) quoteTableName(tableName string) string {
	return fmt.Sprintf(`"%s"`, tableName)
}

// tables returns a map of table names of the database
func (d *sqliteAdapter) tables(q sqlx.Queryer) (map[string]bool, error) {
	var resList []string
	query := "SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'"
	if err := sqlx.Select(q, &resList, query); err != nil {
		return nil, exceptions.System("db_schema", err)
	}
	res := make(map[string]bool, len(resList))
	for _, tableName := range resList {
		res[tableName] = true
	}
	return res, nil
}

// columns returns a list of ColumnData for the given tableName
func (d *sqliteAdapter) columns(q sqlx.Queryer, tableName string) (map[string]ColumnData, error) {
	rows, err := q.Queryx(fmt.Sprintf("PRAGMA table_info(%s)", d.quoteTableName(tableName)))
	if err != nil {
		return nil, exceptions.System("db_schema", err)
	}
	defer rows.Close()
	res := make(map[string]ColumnData)
	for rows.Next() {
		var (
			cid       int64
			name, typ string
			notNull   bool
			dflt      sql.NullString
			pk        int64
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, exceptions.System("db_schema", err)
		}
		nullable := "YES"
		if notNull {
			nullable = "NO"
		}
		res[name] = ColumnData{ColumnName: name, DataType: strings.ToLower(typ), IsNullable: nullable}
	}
	return res, rows.Err()
}

// txOptions returns the options of new transactions
func (d *sqliteAdapter) txOptions() *sql.TxOptions {
	return nil
}

// tryAdvisoryLock emulates advisory locks with an in-process lock table,
// released at the end of the owning transaction.
func (d *sqliteAdapter) tryAdvisoryLock(cr *Cursor, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if owner, ok := d.locks[key]; ok {
		return owner == cr, nil
	}
	d.locks[key] = cr
	cr.onTransactionEnd(func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.locks[key] == cr {
			delete(d.locks, key)
		}
	})
	return true, nil
}

// isSerializationError returns true if the database was busy
func (d *sqliteAdapter) isSerializationError(err error) bool {
	sqlErr, ok := err.(sqlite3.Error)
	if !ok {
		return false
	}
	return sqlErr.Code == sqlite3.ErrBusy || sqlErr.Code == sqlite3.ErrLocked
}

// mapError translates constraint violations into validation errors
func (d *sqliteAdapter) mapError(err error) error {
	sqlErr, ok := err.(sqlite3.Error)
	if !ok || sqlErr.Code != sqlite3.ErrConstraint {
		return nil
	}
	switch sqlErr.ExtendedCode {
	case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
		return exceptions.Validation("unique_violation", "A record with the same value already exists (%s)", sqlErr.Error()).WithCause(err)
	case sqlite3.ErrConstraintForeignKey:
		return exceptions.Validation("foreign_key_violation", "The operation references a missing record or a record still in use").WithCause(err)
	case sqlite3.ErrConstraintNotNull:
		return exceptions.Validation("required", "A required field is missing (%s)", sqlErr.Error()).WithCause(err)
	}
	return exceptions.Validation("check_violation", "Constraint is not satisfied (%s)", sqlErr.Error()).WithCause(err)
}

// dateTruncSQL returns the strftime expression of the given column
func (d *sqliteAdapter) dateTruncSQL(granularity, column string) (string, error) {
	switch granularity {
	case "day":
		return fmt.Sprintf("strftime('%%Y-%%m-%%d', %s)", column), nil
	case "week":
		return fmt.Sprintf("date(%[1]s, '-' || ((CAST(strftime('%%w', %[1]s) AS INTEGER) + 6) %% 7) || ' days')", column), nil
	case "month":
		return fmt.Sprintf("strftime('%%Y-%%m-01', %s)", column), nil
	case "quarter":
		return fmt.Sprintf("printf('%%s-%%02d-01', strftime('%%Y', %[1]s), ((CAST(strftime('%%m', %[1]s) AS INTEGER) - 1) / 3) * 3 + 1)", column), nil
	case "year":
		return fmt.Sprintf("strftime('%%Y-01-01', %s)", column), nil
	}
	return "", exceptions.Validation("invalid_granularity", "Unknown date granularity %s", granularity)
}

// dump writes a consistent copy of the database file with VACUUM INTO
func (d *sqliteAdapter) dump(ctx context.Context, params ConnectionParams, dest string) error {
	db, err := sqlx.Open("sqlite3", d.connectionString(params))
	if err != nil {
		return exceptions.System("db_backup", err)
	}
	defer db.Close()
	if _, err := db.ExecContext(ctx, "VACUUM INTO ?", dest); err != nil {
		return exceptions.System("db_backup", err)
	}
	return nil
}

// restore replaces the database file by the given backup
func (d *sqliteAdapter) restore(_ context.Context, params ConnectionParams, src string) error {
	in, err := os.Open(src)
	if err != nil {
		return exceptions.System("db_backup", err)
	}
	defer in.Close()
	for _, suffix := range []string{"-wal", "-shm"} {
		os.Remove(params.DBName + suffix)
	}
	out, err := os.Create(params.DBName)
	if err != nil {
		return exceptions.System("db_backup", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return exceptions.System("db_backup", err)
	}
	return nil
}

var _ dbAdapter = new(sqliteAdapter)

func init() {
	registerDBAdapter("sqlite3", &sqliteAdapter{locks: make(map[string]*Cursor)})
}
