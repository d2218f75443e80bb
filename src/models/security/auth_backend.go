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

package security

import (
	"context"
	"fmt"
	"sync"
)

// AuthenticationRegistry is the authentication registry of the application
var AuthenticationRegistry = new(AuthBackendRegistry)

// A UserNotFoundError should be returned by backends when the user is not known
type UserNotFoundError string

// Error returns the error message
func (unfe UserNotFoundError) Error() string {
	return fmt.Sprintf("User not found %s", string(unfe))
}

// A InvalidCredentialsError should be returned by backends when the user is known
// to this backend but cannot be authenticated.
type InvalidCredentialsError string

// Error returns the error message
func (ice InvalidCredentialsError) Error() string {
	return fmt.Sprintf("Wrong credentials for user %s", string(ice))
}

// An AuthBackend is capable of authenticating a user.
type AuthBackend interface {
	// Authenticate the user defined by login and secret.
	//
	// On success, it returns the ID of the authenticated user.
	// On failure, it should return a UserNotFoundError if this user is not
	// known to this backend or a InvalidCredentialsError if it is known but
	// cannot be authenticated.
	Authenticate(ctx context.Context, login, secret string) (int64, error)
}

// An AuthBackendRegistry holds an ordered list of AuthBackend instances
// that enables authentication against several backends.
// A pointer to AuthBackendRegistry is itself an AuthBackend that can be
// used in another AuthBackendRegistry.
type AuthBackendRegistry struct {
	sync.RWMutex
	backends []AuthBackend
}

// RegisterBackend registers the given backend in this registry.
// The newly added backend is inserted at the top of the list, so
// that it will override any existing backend that already manages
// the same uids.
func (ar *AuthBackendRegistry) RegisterBackend(backend AuthBackend) {
	ar.Lock()
	defer ar.Unlock()
	ar.backends = append([]AuthBackend{backend}, ar.backends...)
}

// Authenticate tries to authenticate the user with the given login and secret.
// Backends are polled in order. The user is authenticated as soon as one
// backend authenticates the login with the given secret.
func (ar *AuthBackendRegistry) Authenticate(ctx context.Context, login, secret string) (int64, error) {
	ar.RLock()
	backends := ar.backends
	ar.RUnlock()
	for _, backend := range backends {
		uid, err := backend.Authenticate(ctx, login, secret)
		if err != nil {
			if _, ok := err.(UserNotFoundError); ok {
				continue
			}
			return 0, err
		}
		return uid, nil
	}
	return 0, UserNotFoundError(login)
}

var _ AuthBackend = new(AuthBackendRegistry)
