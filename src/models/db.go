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
	"sync"
	"time"

	"github.com/hexya-erp/erpkit/src/models/operator"
	"github.com/hexya-erp/erpkit/src/tools/exceptions"
	"github.com/jmoiron/sqlx"
)

var adapters = make(map[string]dbAdapter)

// ConnectionParams are the database agnostic parameters to connect to the database
type ConnectionParams struct {
	Driver   string
	Host     string
	Port     string
	User     string
	Password string
	// DBName is the database name for postgres and the file path for sqlite3
	DBName  string
	SSLMode string
	SSLCert string
	SSLKey  string
	SSLCA   string
}

// A ColumnData holds information from the db schema about one column
type ColumnData struct {
	ColumnName string `db:"column_name"`
	DataType   string `db:"data_type"`
	IsNullable string `db:"is_nullable"`
}

type dbAdapter interface {
	// connectionString returns the connection string for the given parameters
	connectionString(ConnectionParams) string
	// operatorSQL returns the sql string and placeholders for the given operator
	operatorSQL(operator.Operator, interface{}) (string, interface{})
	// typeSQL returns the SQL type string of the given field
	typeSQL(fi *Field) string
	// primaryKeySQL returns the column definition of the id column
	primaryKeySQL() string
	// quoteTableName returns the given table name with sql quotes
	quoteTableName(string) string
	// tables returns a map of table names of the database
	tables(q sqlx.Queryer) (map[string]bool, error)
	// columns returns a list of ColumnData for the given tableName
	columns(q sqlx.Queryer, tableName string) (map[string]ColumnData, error)
	// txOptions returns the options of new transactions
	txOptions() *sql.TxOptions
	// tryAdvisoryLock tries to take the transaction scoped lock identified by key
	tryAdvisoryLock(cr *Cursor, key string) (bool, error)
	// isSerializationError returns true if the given error is a serialization error
	// and that the failed transaction should be retried.
	isSerializationError(err error) bool
	// mapError translates a driver error into a typed error, or returns nil
	mapError(err error) error
	// dateTruncSQL returns an SQL expression truncating the given column to the
	// given granularity, as a YYYY-MM-DD string.
	dateTruncSQL(granularity, column string) (string, error)
	// dump writes a backup of the database to dest
	dump(ctx context.Context, params ConnectionParams, dest string) error
	// restore loads the backup at src into the database
	restore(ctx context.Context, params ConnectionParams, src string) error
}

// registerDBAdapter adds a adapter to the adapters registry
// name of the adapter should match the database/sql driver name
func registerDBAdapter(name string, adapter dbAdapter) {
	adapters[name] = adapter
}

// A DB is a connection pool to a database with its dialect adapter
type DB struct {
	*sqlx.DB
	adapter dbAdapter
	params  ConnectionParams
}

// Connect connects to the database described by params.
func Connect(params ConnectionParams) (*DB, error) {
	adapter, ok := adapters[params.Driver]
	if !ok {
		return nil, exceptions.Systemf("unknown_driver", "unknown database driver %q", params.Driver)
	}
	db, err := sqlx.Connect(params.Driver, adapter.connectionString(params))
	if err != nil {
		return nil, exceptions.System("db_connect", err)
	}
	log.Info("Connected to database", "driver", params.Driver, "database", params.DBName)
	return &DB{DB: db, adapter: adapter, params: params}, nil
}

// Close closes the connection to the database
func (db *DB) Close() error {
	err := db.DB.Close()
	log.Info("Closed database", "error", err)
	return err
}

// Params returns the connection parameters of this database
func (db *DB) Params() ConnectionParams {
	return db.params
}

// Tables returns the set of tables of the database
func (db *DB) Tables() (map[string]bool, error) {
	return db.adapter.tables(db.DB)
}

// Columns returns the columns of the given table
func (db *DB) Columns(table string) (map[string]ColumnData, error) {
	return db.adapter.columns(db.DB, table)
}

// Begin starts a new transaction and returns its cursor
func (db *DB) Begin(ctx context.Context) (*Cursor, error) {
	tx, err := db.BeginTxx(ctx, db.adapter.txOptions())
	if err != nil {
		return nil, db.wrapError(err)
	}
	return &Cursor{db: db, tx: tx, ctx: ctx}, nil
}

// Dump writes a backup of the database to the given path
func Dump(ctx context.Context, params ConnectionParams, dest string) error {
	adapter, ok := adapters[params.Driver]
	if !ok {
		return exceptions.Systemf("unknown_driver", "unknown database driver %q", params.Driver)
	}
	return adapter.dump(ctx, params, dest)
}

// Restore loads the backup at the given path into the database. The database
// must not be in use.
func Restore(ctx context.Context, params ConnectionParams, src string) error {
	adapter, ok := adapters[params.Driver]
	if !ok {
		return exceptions.Systemf("unknown_driver", "unknown database driver %q", params.Driver)
	}
	return adapter.restore(ctx, params, src)
}

// wrapError returns a typed error for the given database error.
func (db *DB) wrapError(err error) error {
	if err == nil {
		return nil
	}
	if exceptions.As(err) != nil {
		return err
	}
	if db.adapter.isSerializationError(err) {
		return exceptions.Conflict("serialization", "concurrent update, please retry").WithCause(err)
	}
	if mapped := db.adapter.mapError(err); mapped != nil {
		return mapped
	}
	return exceptions.System("db", err)
}

// Cursor is a wrapper around a database transaction
type Cursor struct {
	db         *DB
	tx         *sqlx.Tx
	ctx        context.Context
	mu         sync.Mutex
	savepoints int
	onEnd      []func()
	done       bool
}

// Execute a query without returning any rows.
// The args are for any placeholder parameters in the query.
func (c *Cursor) Execute(query string, args ...interface{}) (sql.Result, error) {
	query, args, err := c.sanitizeQuery(query, args...)
	if err != nil {
		return nil, err
	}
	t := time.Now()
	res, err := c.tx.ExecContext(c.ctx, query, args...)
	return res, c.logSQLResult(err, t, query, args...)
}

// Get queries a row into the database and maps the result into dest.
// The query must return only one row.
func (c *Cursor) Get(dest interface{}, query string, args ...interface{}) error {
	query, args, err := c.sanitizeQuery(query, args...)
	if err != nil {
		return err
	}
	t := time.Now()
	err = c.tx.GetContext(c.ctx, dest, query, args...)
	return c.logSQLResult(err, t, query, args...)
}

// Select queries multiple rows and map the result into dest which must be a slice.
func (c *Cursor) Select(dest interface{}, query string, args ...interface{}) error {
	query, args, err := c.sanitizeQuery(query, args...)
	if err != nil {
		return err
	}
	t := time.Now()
	err = c.tx.SelectContext(c.ctx, dest, query, args...)
	return c.logSQLResult(err, t, query, args...)
}

// Query runs the given query and returns the rows. Rows must be closed
// by the caller.
func (c *Cursor) Query(query string, args ...interface{}) (*sqlx.Rows, error) {
	query, args, err := c.sanitizeQuery(query, args...)
	if err != nil {
		return nil, err
	}
	t := time.Now()
	rows, err := c.tx.QueryxContext(c.ctx, query, args...)
	return rows, c.logSQLResult(err, t, query, args...)
}

// Context returns the context.Context of this cursor
func (c *Cursor) Context() context.Context {
	return c.ctx
}

// DriverName returns the name of the database driver
func (c *Cursor) DriverName() string {
	return c.db.DriverName()
}

// Commit the transaction of this cursor
func (c *Cursor) Commit() error {
	defer c.end()
	return c.db.wrapError(c.tx.Commit())
}

// Rollback the transaction of this cursor
func (c *Cursor) Rollback() error {
	defer c.end()
	err := c.tx.Rollback()
	if err == sql.ErrTxDone {
		return nil
	}
	return c.db.wrapError(err)
}

// Savepoint executes fnct inside a savepoint. If fnct returns an error,
// the changes made since the savepoint are rolled back and the error is
// returned.
func (c *Cursor) Savepoint(fnct func() error) (err error) {
	c.mu.Lock()
	c.savepoints++
	name := fmt.Sprintf("sp_%d", c.savepoints)
	c.mu.Unlock()
	if _, err = c.Execute("SAVEPOINT " + name); err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			c.Execute("ROLLBACK TO SAVEPOINT " + name)
			panic(r)
		}
	}()
	if err = fnct(); err != nil {
		if _, rbErr := c.Execute("ROLLBACK TO SAVEPOINT " + name); rbErr != nil {
			log.Warn("Unable to rollback to savepoint", "savepoint", name, "error", rbErr)
		}
		return err
	}
	_, err = c.Execute("RELEASE SAVEPOINT " + name)
	return err
}

// TryLock tries to take the lock identified by key for the rest of the
// transaction. It returns false without waiting if the lock is held by
// another transaction.
func (c *Cursor) TryLock(key string) (bool, error) {
	return c.db.adapter.tryAdvisoryLock(c, key)
}

// onTransactionEnd registers fnct to be called on commit or rollback
func (c *Cursor) onTransactionEnd(fnct func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEnd = append(c.onEnd, fnct)
}

func (c *Cursor) end() {
	c.mu.Lock()
	hooks := c.onEnd
	c.onEnd = nil
	c.done = true
	c.mu.Unlock()
	for _, h := range hooks {
		h()
	}
}

// sanitizeQuery calls 'In' expansion and 'Rebind' on the given query and
// returns the new values to use.
func (c *Cursor) sanitizeQuery(query string, args ...interface{}) (string, []interface{}, error) {
	q, expArgs, err := sqlx.In(query, args...)
	if err != nil {
		return "", nil, exceptions.Systemf("query", "unable to expand IN statement of %s: %s", query, err)
	}
	return c.tx.Rebind(q), expArgs, nil
}

// logSQLResult logs the result of the given sql query started at start time
// and returns the typed error if any.
func (c *Cursor) logSQLResult(err error, start time.Time, query string, args ...interface{}) error {
	logCtx := log.New("query", query, "args", args, "duration", time.Since(start))
	if err != nil && err != sql.ErrNoRows {
		logCtx.Debug("Error while executing query", "error", err)
		return c.db.wrapError(err)
	}
	logCtx.Debug("Query executed")
	return err
}
