// Copyright 2017 NDP Systèmes. All Rights Reserved.
// See LICENSE file for full licensing details.

package base

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hexya-erp/erpkit/src/models"
	"github.com/hexya-erp/erpkit/src/models/security"
	"github.com/hexya-erp/erpkit/src/tools/password"
)

// An AuthBackend authenticates the active users of the res.users model
// with their hashed password.
type AuthBackend struct {
	registry atomic.Pointer[models.Registry]
}

// SetRegistry sets the registry in which users are looked up
func (ab *AuthBackend) SetRegistry(reg *models.Registry) {
	ab.registry.Store(reg)
}

// Authenticate the user defined by login and secret.
func (ab *AuthBackend) Authenticate(ctx context.Context, login, secret string) (int64, error) {
	reg := ab.registry.Load()
	if reg == nil {
		return 0, security.UserNotFoundError(login)
	}
	var (
		uid     int64
		authErr error
	)
	err := reg.SimulateInNewEnvironment(ctx, security.SuperUserID, func(env models.Environment) error {
		users, err := env.Pool(UsersModel).Search(models.NewCondition().
			And().Field("login").Equals(login).
			And().Field("active").Equals(true))
		if err != nil {
			return err
		}
		if users.IsEmpty() {
			authErr = security.UserNotFoundError(login)
			return nil
		}
		hash, err := users.Get("password")
		if err != nil {
			return err
		}
		if !password.Verify(secret, hash.(string)) {
			authErr = security.InvalidCredentialsError(login)
			return nil
		}
		uid = users.ID()
		return nil
	})
	switch {
	case err != nil:
		return 0, err
	case authErr != nil:
		return 0, authErr
	}
	err = reg.ExecuteInNewEnvironment(ctx, security.SuperUserID, func(env models.Environment) error {
		return env.Pool(UsersModel).Browse(uid).Write(models.FieldMap{"login_date": time.Now().UTC()})
	})
	if err != nil {
		log.Warn("Unable to record login date", "login", login, "error", err)
	}
	return uid, nil
}

var _ security.AuthBackend = new(AuthBackend)
