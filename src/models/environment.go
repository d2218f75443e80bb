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

	"github.com/hexya-erp/erpkit/src/models/security"
	"github.com/hexya-erp/erpkit/src/models/types"
	"github.com/hexya-erp/erpkit/src/tools/exceptions"
	"github.com/hexya-erp/erpkit/src/tools/logging"
	"github.com/hexya-erp/erpkit/src/tools/nbutils"
)

// DBSerializationMaxRetries defines the number of time a
// transaction that failed due to serialization error should
// be retried.
const DBSerializationMaxRetries uint8 = 5

// An Environment stores various contextual data used by the models:
// - the database cursor (current open transaction),
// - the current user ID (for access rights checking)
// - the current context (for storing arbitrary metadata).
//
// An Environment is a value: Sudo and WithContext return modified copies
// and leave the receiver untouched.
type Environment struct {
	registry *Registry
	cr       *Cursor
	uid      int64
	context  *types.Context
	sudo     bool
	state    *envState
}

// envState is shared by all environments of a transaction
type envState struct {
	userGroups  map[int64]map[string]bool
	pending     map[*Field]map[int64]bool
	recomputing bool
}

// snapshot returns a copy of the recompute queue
func (s *envState) snapshot() map[*Field]map[int64]bool {
	res := make(map[*Field]map[int64]bool, len(s.pending))
	for fi, ids := range s.pending {
		res[fi] = make(map[int64]bool, len(ids))
		for id := range ids {
			res[fi][id] = true
		}
	}
	return res
}

// Registry returns the registry of this Environment
func (env Environment) Registry() *Registry {
	return env.registry
}

// Cr returns a pointer to the Cursor of the Environment
func (env Environment) Cr() *Cursor {
	return env.cr
}

// Uid returns the user id of the Environment
func (env Environment) Uid() int64 {
	return env.uid
}

// Context returns the Context of the Environment
func (env Environment) Context() *types.Context {
	return env.context
}

// Ctx returns the context.Context of the transaction, which carries its
// deadline.
func (env Environment) Ctx() context.Context {
	return env.cr.Context()
}

// IsSudo returns true if access checks are bypassed in this environment
func (env Environment) IsSudo() bool {
	return env.sudo
}

// IsSuperUser returns true if this environment bypasses access control,
// either because it is in sudo mode or because its user is the superuser.
func (env Environment) IsSuperUser() bool {
	return env.sudo || env.uid == security.SuperUserID
}

// Sudo returns a copy of this environment that bypasses access control.
// If uid is given, the returned environment acts as this user.
func (env Environment) Sudo(uid ...int64) Environment {
	env.sudo = true
	if len(uid) > 0 {
		env.uid = uid[0]
		env.sudo = false
	}
	return env
}

// WithContext returns a copy of this environment with the given key set
// in its context.
func (env Environment) WithContext(key string, value interface{}) Environment {
	env.context = env.context.WithKey(key, value)
	return env
}

// WithNewContext returns a copy of this environment with the given context
func (env Environment) WithNewContext(ctx *types.Context) Environment {
	if ctx == nil {
		ctx = types.NewContext()
	}
	env.context = ctx
	return env
}

// Lang returns the language of this environment's context
func (env Environment) Lang() string {
	return env.context.GetString("lang")
}

// CompanyID returns the id of the current company, taken from the
// "company_id" key of the context.
func (env Environment) CompanyID() int64 {
	id, _ := nbutils.CastToInteger(env.context.Get("company_id"))
	return id
}

// Pool returns an empty RecordCollection for the given modelName. It panics
// if the model does not exist.
func (env Environment) Pool(modelName string) *RecordCollection {
	rc, err := env.Model(modelName)
	if err != nil {
		log.Panic("Unknown model", "model", modelName)
	}
	return rc
}

// Model returns an empty RecordCollection for the given modelName
func (env Environment) Model(modelName string) (*RecordCollection, error) {
	mi := env.registry.Get(modelName)
	if mi == nil || mi.isMixin {
		return nil, exceptions.NotFound("unknown_model", "Unknown model %s", modelName)
	}
	return newRecordCollection(env, mi), nil
}

// Savepoint executes fnct inside a savepoint of the current transaction.
// If fnct returns an error, all changes made by fnct are rolled back and
// the error is returned, leaving the transaction usable.
func (env Environment) Savepoint(fnct func(env Environment) error) error {
	pending := env.state.snapshot()
	err := env.cr.Savepoint(func() error {
		return fnct(env)
	})
	if err != nil {
		env.state.pending = pending
		env.state.userGroups = make(map[int64]map[string]bool)
	}
	return err
}

// TryLock tries to take the advisory lock identified by key until the end
// of the transaction. It returns false if another transaction holds it.
func (env Environment) TryLock(key string) (bool, error) {
	return env.cr.TryLock(key)
}

// InvalidateGroups clears the cached group memberships of this
// transaction. It must be called after changing memberships.
func (env Environment) InvalidateGroups() {
	env.state.userGroups = make(map[int64]map[string]bool)
}

// newEnvironment returns a new Environment for the given user ID on a new
// transaction.
//
// Callers must either commit or rollback the cursor of the returned
// Environment to release the database connection.
func (r *Registry) newEnvironment(ctx context.Context, uid int64) (Environment, error) {
	if r.db == nil {
		return Environment{}, exceptions.Systemf("no_database", "registry is not bound to a database")
	}
	cr, err := r.db.Begin(ctx)
	if err != nil {
		return Environment{}, err
	}
	return Environment{
		registry: r,
		cr:       cr,
		uid:      uid,
		context:  types.NewContext(),
		state: &envState{
			userGroups: make(map[int64]map[string]bool),
			pending:    make(map[*Field]map[int64]bool),
		},
	}, nil
}

// ExecuteInNewEnvironment executes the given fnct in a new Environment
// within a new transaction.
//
// This function commits the transaction if everything went right or
// rolls it back otherwise, returning an error. Database serialization
// errors are automatically retried several times before returning an
// error if they still occur.
func (r *Registry) ExecuteInNewEnvironment(ctx context.Context, uid int64, fnct func(Environment) error) error {
	var err error
	for retries := uint8(0); retries < DBSerializationMaxRetries; retries++ {
		err = r.runInNewEnvironment(ctx, uid, fnct, true)
		if exceptions.CodeOf(err) != "serialization" {
			return err
		}
		log.Info("Serialization error, retrying transaction", "retry", retries+1, "error", err)
	}
	return err
}

// SimulateInNewEnvironment executes the given fnct in a new Environment
// within a new transaction and rolls back the transaction at the end.
func (r *Registry) SimulateInNewEnvironment(ctx context.Context, uid int64, fnct func(Environment) error) error {
	return r.runInNewEnvironment(ctx, uid, fnct, false)
}

func (r *Registry) runInNewEnvironment(ctx context.Context, uid int64, fnct func(Environment) error, commit bool) (rError error) {
	env, err := r.newEnvironment(ctx, uid)
	if err != nil {
		return err
	}
	defer func() {
		if rec := recover(); rec != nil {
			env.cr.Rollback()
			rError = logging.LogPanicData(rec)
		}
	}()
	err = fnct(env)
	if err == nil {
		err = env.processRecompute()
	}
	if err == nil && ctx.Err() != nil {
		err = exceptions.Systemf("timeout", "transaction aborted: %s", ctx.Err())
	}
	if err != nil || !commit {
		if rbErr := env.cr.Rollback(); rbErr != nil {
			log.Warn("Error while rolling back transaction", "error", rbErr)
		}
		return err
	}
	return env.cr.Commit()
}
