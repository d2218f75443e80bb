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

import "strings"

// A Permission defines which operations a group may perform on a model
type Permission uint8

// Permissions
const (
	Read Permission = 1 << iota
	Write
	Create
	Unlink
	All = Read | Write | Create | Unlink
)

// String returns a readable representation of p, such as "read|write"
func (p Permission) String() string {
	var parts []string
	for _, item := range []struct {
		perm Permission
		name string
	}{{Read, "read"}, {Write, "write"}, {Create, "create"}, {Unlink, "unlink"}} {
		if p&item.perm != 0 {
			parts = append(parts, item.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// ParsePermission returns the Permission with the given name
// ("read", "write", "create" or "unlink") or 0.
func ParsePermission(name string) Permission {
	switch strings.ToLower(name) {
	case "read":
		return Read
	case "write":
		return Write
	case "create":
		return Create
	case "unlink":
		return Unlink
	}
	return 0
}
