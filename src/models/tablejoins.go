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

import "fmt"

const sqlSep = "__"

// A tableJoin is a LEFT JOIN of the table of a many2one target, reached
// from another (already joined) table.
type tableJoin struct {
	tableName  string
	alias      string
	otherAlias string
	otherField string
}

// sqlString returns the sql string for the tableJoin clause
func (t tableJoin) sqlString() string {
	return fmt.Sprintf(`LEFT JOIN %s %s ON %s.id = %s.%s`, t.tableName, t.alias, t.alias, t.otherAlias, t.otherField)
}
