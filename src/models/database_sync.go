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
	"fmt"
	"strings"

	"github.com/hexya-erp/erpkit/src/models/fieldtype"
)

// SyncDatabase creates or updates the database schema so that it holds
// the tables and columns of all the models of env's registry. Columns are
// never dropped: columns without field are only logged.
func SyncDatabase(env Environment) error {
	log.Info("Updating database schema")
	adapter := env.registry.db.adapter
	dbTables, err := adapter.tables(env.cr.tx)
	if err != nil {
		return err
	}
	var models []*Model
	for _, mi := range env.registry.Models() {
		if mi.isMixin {
			continue
		}
		models = append(models, mi)
		if dbTables[mi.table] {
			continue
		}
		if err := createDBTable(env, mi); err != nil {
			return err
		}
		dbTables[mi.table] = true
	}
	for _, mi := range models {
		if err := updateDBColumns(env, mi); err != nil {
			return err
		}
	}
	for _, mi := range models {
		if err := updateDBRelationTables(env, mi, dbTables); err != nil {
			return err
		}
		if err := updateDBIndexes(env, mi); err != nil {
			return err
		}
	}
	return nil
}

// createDBTable creates a table in the database for the given Model.
// Only the id column is created, the others are added by updateDBColumns.
func createDBTable(env Environment, mi *Model) error {
	adapter := env.registry.db.adapter
	log.Debug("Creating table", "model", mi.name, "table", mi.table)
	query := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (id %s)", adapter.quoteTableName(mi.table), adapter.primaryKeySQL())
	_, err := env.cr.Execute(query)
	return err
}

// updateDBColumns adds the missing columns of the stored fields of mi
func updateDBColumns(env Environment, mi *Model) error {
	adapter := env.registry.db.adapter
	dbColumns, err := adapter.columns(env.cr.tx, mi.table)
	if err != nil {
		return err
	}
	for _, fi := range mi.Fields() {
		if !fi.IsColumn() || fi.name == "id" {
			continue
		}
		dbCol, exists := dbColumns[fi.name]
		if exists {
			if typ := adapter.typeSQL(fi); !strings.HasPrefix(typ, dbCol.DataType) && !strings.HasPrefix(dbCol.DataType, typ) {
				log.Warn("Column type differs from field type", "model", mi.name, "field", fi.name, "column", dbCol.DataType, "expected", typ)
			}
			continue
		}
		if err := createDBColumn(env, fi); err != nil {
			return err
		}
	}
	for col := range dbColumns {
		if fi := mi.fields[col]; fi == nil || !fi.IsColumn() {
			log.Info("Column has no matching stored field", "model", mi.name, "column", col)
		}
	}
	return nil
}

// fkSQL returns the REFERENCES clause of the given many2one field. Foreign
// keys are deferred until commit. Restrict policies are checked by the ORM
// so that they use NO ACTION in the database.
func fkSQL(env Environment, target *Model, onDelete OnDeleteAction) string {
	action := "SET NULL"
	switch onDelete {
	case Cascade:
		action = "CASCADE"
	case Restrict:
		action = "NO ACTION"
	}
	return fmt.Sprintf("REFERENCES %s (id) ON DELETE %s DEFERRABLE INITIALLY DEFERRED",
		env.registry.db.adapter.quoteTableName(target.table), action)
}

// createDBColumn creates the column of the given stored field
func createDBColumn(env Environment, fi *Field) error {
	adapter := env.registry.db.adapter
	log.Debug("Adding column", "model", fi.model.name, "field", fi.name)
	def := adapter.typeSQL(fi)
	if fi.fieldType == fieldtype.Many2One && fi.relatedModel != nil && !fi.relatedModel.isMixin {
		def += " " + fkSQL(env, fi.relatedModel, fi.onDelete)
	}
	query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", adapter.quoteTableName(fi.model.table), adapter.quoteTableName(fi.name), def)
	if _, err := env.cr.Execute(query); err != nil {
		return err
	}
	if fi.fieldType != fieldtype.Boolean {
		return nil
	}
	query = fmt.Sprintf("UPDATE %s SET %s = ? WHERE %s IS NULL", adapter.quoteTableName(fi.model.table),
		adapter.quoteTableName(fi.name), adapter.quoteTableName(fi.name))
	_, err := env.cr.Execute(query, false)
	return err
}

// updateDBRelationTables creates the missing many2many relation tables
// of the fields of mi.
func updateDBRelationTables(env Environment, mi *Model, dbTables map[string]bool) error {
	adapter := env.registry.db.adapter
	for _, fi := range mi.Fields() {
		if fi.fieldType != fieldtype.Many2Many || !fi.IsStored() || dbTables[fi.m2mRelTable] {
			continue
		}
		log.Debug("Creating relation table", "model", mi.name, "field", fi.name, "table", fi.m2mRelTable)
		colType := adapter.typeSQL(&Field{fieldType: fieldtype.Many2One})
		query := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s %s NOT NULL %s, %s %s NOT NULL %s, PRIMARY KEY (%s, %s))",
			adapter.quoteTableName(fi.m2mRelTable),
			adapter.quoteTableName(fi.m2mOurField), colType, fkSQL(env, mi, Cascade),
			adapter.quoteTableName(fi.m2mTheirField), colType, fkSQL(env, fi.relatedModel, Cascade),
			adapter.quoteTableName(fi.m2mOurField), adapter.quoteTableName(fi.m2mTheirField))
		if _, err := env.cr.Execute(query); err != nil {
			return err
		}
		query = fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
			adapter.quoteTableName(fi.m2mRelTable+"_"+fi.m2mTheirField+"_index"),
			adapter.quoteTableName(fi.m2mRelTable), adapter.quoteTableName(fi.m2mTheirField))
		if _, err := env.cr.Execute(query); err != nil {
			return err
		}
		dbTables[fi.m2mRelTable] = true
	}
	return nil
}

// updateDBIndexes creates the indexes of indexed and unique fields of mi
// and the unique indexes of its unique constraints.
func updateDBIndexes(env Environment, mi *Model) error {
	adapter := env.registry.db.adapter
	createIndex := func(name string, unique bool, cols ...string) error {
		quoted := make([]string, len(cols))
		for i, col := range cols {
			quoted[i] = adapter.quoteTableName(col)
		}
		kw := "INDEX"
		if unique {
			kw = "UNIQUE INDEX"
		}
		query := fmt.Sprintf("CREATE %s IF NOT EXISTS %s ON %s (%s)", kw, adapter.quoteTableName(name),
			adapter.quoteTableName(mi.table), strings.Join(quoted, ", "))
		_, err := env.cr.Execute(query)
		return err
	}
	for _, fi := range mi.Fields() {
		if !fi.IsColumn() || fi.name == "id" {
			continue
		}
		switch {
		case fi.unique:
			if err := createIndex(fmt.Sprintf("%s_%s_key", mi.table, fi.name), true, fi.name); err != nil {
				return err
			}
		case fi.index || fi.fieldType == fieldtype.Many2One:
			if err := createIndex(fmt.Sprintf("%s_%s_index", mi.table, fi.name), false, fi.name); err != nil {
				return err
			}
		}
	}
	for _, uc := range mi.uniques {
		if err := createIndex(fmt.Sprintf("%s_%s", mi.table, uc.name), true, uc.fields...); err != nil {
			return err
		}
	}
	return nil
}
