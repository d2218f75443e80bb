// Copyright 2016 NDP Systèmes. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package models

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"os"
	"os/exec"
	"strings"

	"github.com/hexya-erp/erpkit/src/models/fieldtype"
	"github.com/hexya-erp/erpkit/src/models/operator"
	"github.com/hexya-erp/erpkit/src/tools/exceptions"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type postgresAdapter struct{}

var pgOperators = map[operator.Operator]string{
	operator.Equals:         "= ?",
	operator.NotEquals:      "!= ?",
	operator.Contains:       "LIKE ?",
	operator.NotContains:    "NOT LIKE ?",
	operator.Like:           "LIKE ?",
	operator.IContains:      "ILIKE ?",
	operator.NotIContains:   "NOT ILIKE ?",
	operator.ILike:          "ILIKE ?",
	operator.In:             "IN (?)",
	operator.NotIn:          "NOT IN (?)",
	operator.Lower:          "< ?",
	operator.LowerOrEqual:   "<= ?",
	operator.Greater:        "> ?",
	operator.GreaterOrEqual: ">= ?",
}

var pgTypes = map[fieldtype.Type]string{
	fieldtype.Binary:    "bytea",
	fieldtype.Boolean:   "boolean",
	fieldtype.Char:      "character varying",
	fieldtype.Date:      "date",
	fieldtype.DateTime:  "timestamp without time zone",
	fieldtype.Float:     "double precision",
	fieldtype.Integer:   "bigint",
	fieldtype.JSON:      "jsonb",
	fieldtype.Many2One:  "bigint",
	fieldtype.Monetary:  "numeric",
	fieldtype.Selection: "character varying",
	fieldtype.Text:      "text",
}

var pgTruncs = map[string]bool{
	"day":     true,
	"week":    true,
	"month":   true,
	"quarter": true,
	"year":    true,
}

// connectionString returns the connection string for the given parameters
func (d *postgresAdapter) connectionString(params ConnectionParams) string {
	connData := fmt.Sprintf("dbname=%s sslmode=%s", params.DBName, params.SSLMode)
	if params.SSLMode == "" {
		connData = fmt.Sprintf("dbname=%s sslmode=disable", params.DBName)
	}
	for _, kv := range [][2]string{
		{"host", params.Host}, {"port", params.Port}, {"user", params.User},
		{"password", params.Password}, {"sslcert", params.SSLCert},
		{"sslkey", params.SSLKey}, {"sslrootcert", params.SSLCA},
	} {
		if kv[1] != "" {
			connData += fmt.Sprintf(" %s=%s", kv[0], kv[1])
		}
	}
	return connData
}

// operatorSQL returns the sql string and placeholders for the given operator.
// Also modifies the given args to match the syntax of the operator.
func (d *postgresAdapter) operatorSQL(do operator.Operator, arg interface{}) (string, interface{}) {
	op := pgOperators[do]
	if do.IsContains() {
		arg = fmt.Sprintf("%%%v%%", arg)
	}
	return op, arg
}

// typeSQL returns the sql type string for the given Field
func (d *postgresAdapter) typeSQL(fi *Field) string {
	typ := pgTypes[fi.fieldType]
	switch fi.fieldType {
	case fieldtype.Char:
		if fi.size > 0 {
			typ = fmt.Sprintf("%s(%d)", typ, fi.size)
		}
	case fieldtype.Float, fieldtype.Monetary:
		if !fi.digits.IsZero() {
			typ = fmt.Sprintf("numeric(%d, %d)", fi.digits.Precision, fi.digits.Scale)
		}
	}
	return typ
}

// primaryKeySQL returns the column definition of the id column
func (d *postgresAdapter) primaryKeySQL() string {
	return "bigserial PRIMARY KEY"
}

// quoteTableName returns the given table name with sql quotes
func (d *postgresAdapter) quoteTableName(tableName string) string {
	return fmt.Sprintf(`"%s"`, tableName)
}

// tables returns a map of table names of the database
func (d *postgresAdapter) tables(q sqlx.Queryer) (map[string]bool, error) {
	var resList []string
	query := "SELECT table_name FROM information_schema.tables WHERE table_type = 'BASE TABLE' AND table_schema NOT IN ('pg_catalog', 'information_schema')"
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
func (d *postgresAdapter) columns(q sqlx.Queryer, tableName string) (map[string]ColumnData, error) {
	query := `
		SELECT column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_schema NOT IN ('pg_catalog', 'information_schema') AND table_name = $1`
	var colData []ColumnData
	if err := sqlx.Select(q, &colData, query, tableName); err != nil {
		return nil, exceptions.System("db_schema", err)
	}
	res := make(map[string]ColumnData, len(colData))
	for _, col := range colData {
		res[col.ColumnName] = col
	}
	return res, nil
}

// txOptions returns the options of new transactions
func (d *postgresAdapter) txOptions() *sql.TxOptions {
	return &sql.TxOptions{Isolation: sql.LevelRepeatableRead}
}

// tryAdvisoryLock tries to take a transaction level advisory lock
func (d *postgresAdapter) tryAdvisoryLock(cr *Cursor, key string) (bool, error) {
	h := fnv.New64a()
	h.Write([]byte(key))
	var res bool
	err := cr.Get(&res, "SELECT pg_try_advisory_xact_lock(?)", int64(h.Sum64()))
	return res, err
}

// isSerializationError returns true if the given error is a serialization error
// and that the failed transaction should be retried.
func (d *postgresAdapter) isSerializationError(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Class() == "40" {
		return true
	}
	return false
}

// mapError translates constraint violations into validation errors
func (d *postgresAdapter) mapError(err error) error {
	pqErr, ok := err.(*pq.Error)
	if !ok {
		return nil
	}
	switch pqErr.Code.Name() {
	case "unique_violation":
		return exceptions.Validation("unique_violation", "A record with the same value already exists (%s)", pqErr.Constraint).WithCause(err)
	case "foreign_key_violation":
		return exceptions.Validation("foreign_key_violation", "The operation references a missing record or a record still in use (%s)", pqErr.Constraint).WithCause(err)
	case "not_null_violation":
		return exceptions.Validation("required", "Field %s of %s is required", pqErr.Column, pqErr.Table).WithCause(err)
	case "check_violation":
		return exceptions.Validation("check_violation", "Constraint %s is not satisfied", pqErr.Constraint).WithCause(err)
	}
	return nil
}

// dateTruncSQL returns the date_trunc expression of the given column
func (d *postgresAdapter) dateTruncSQL(granularity, column string) (string, error) {
	if !pgTruncs[granularity] {
		return "", exceptions.Validation("invalid_granularity", "Unknown date granularity %s", granularity)
	}
	return fmt.Sprintf("to_char(date_trunc('%s', %s), 'YYYY-MM-DD')", granularity, column), nil
}

// pgEnv returns the environment of pg_dump and pg_restore commands
func (d *postgresAdapter) pgEnv(params ConnectionParams) []string {
	env := os.Environ()
	for _, kv := range [][2]string{
		{"PGHOST", params.Host}, {"PGPORT", params.Port}, {"PGUSER", params.User},
		{"PGPASSWORD", params.Password}, {"PGDATABASE", params.DBName},
	} {
		if kv[1] != "" {
			env = append(env, kv[0]+"="+kv[1])
		}
	}
	return env
}

func (d *postgresAdapter) runTool(ctx context.Context, params ConnectionParams, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = d.pgEnv(params)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return exceptions.Systemf("db_backup", "%s failed: %s", name, strings.TrimSpace(string(out))).WithCause(err)
	}
	return nil
}

// dump writes a custom format archive of the database with pg_dump
func (d *postgresAdapter) dump(ctx context.Context, params ConnectionParams, dest string) error {
	return d.runTool(ctx, params, "pg_dump", "--format=custom", "--no-owner", "--file="+dest, params.DBName)
}

// restore loads an archive made by dump with pg_restore
func (d *postgresAdapter) restore(ctx context.Context, params ConnectionParams, src string) error {
	return d.runTool(ctx, params, "pg_restore", "--clean", "--if-exists", "--no-owner", "--dbname="+params.DBName, src)
}

var _ dbAdapter = new(postgresAdapter)

func init() {
	registerDBAdapter("postgres", new(postgresAdapter))
}
