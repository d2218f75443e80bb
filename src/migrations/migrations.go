// Copyright 2017 NDP Systèmes. All Rights Reserved.
// See LICENSE file for full licensing details.

package migrations

import (
	"sort"
	"strconv"
	"strings"

	"github.com/hexya-erp/erpkit/src/models"
	"github.com/hexya-erp/erpkit/src/tools/exceptions"
	"github.com/pkg/errors"
)

// A Stage tells when a migration script runs relative to the schema sync
type Stage string

// Migration stages
const (
	StagePre  Stage = "pre"
	StagePost Stage = "post"
)

// A Func is the body of a migration script. It receives the cursor of
// the upgrade transaction and the version the module is upgraded from.
type Func func(cr *models.Cursor, previous string) error

// A Script migrates the data of a module to the given Version.
type Script struct {
	Version string
	Stage   Stage
	Name    string
	Run     Func
}

// String returns a human readable identifier of the script
func (s Script) String() string {
	if s.Name == "" {
		return string(s.Stage) + "-" + s.Version
	}
	return string(s.Stage) + "-" + s.Version + "-" + s.Name
}

// ParseVersion returns the numeric components of a dotted version string.
func ParseVersion(version string) ([]int, error) {
	if version == "" {
		return nil, exceptions.Validation("invalid_version", "empty version")
	}
	parts := strings.Split(version, ".")
	res := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return nil, exceptions.Validation("invalid_version", "invalid version '%s'", version)
		}
		res[i] = n
	}
	return res, nil
}

// CompareVersions compares two dotted versions numerically, component by
// component. Missing components count as 0, so that "1.0" equals "1.0.0".
// It returns -1, 0 or 1 if a is respectively lower than, equal to or
// greater than b.
func CompareVersions(a, b string) (int, error) {
	va, err := ParseVersion(a)
	if err != nil {
		return 0, err
	}
	vb, err := ParseVersion(b)
	if err != nil {
		return 0, err
	}
	for i := 0; i < len(va) || i < len(vb); i++ {
		var x, y int
		if i < len(va) {
			x = va[i]
		}
		if i < len(vb) {
			y = vb[i]
		}
		switch {
		case x < y:
			return -1, nil
		case x > y:
			return 1, nil
		}
	}
	return 0, nil
}

// Validate checks that the given scripts have valid versions and stages
func Validate(scripts []Script) error {
	for _, s := range scripts {
		if _, err := ParseVersion(s.Version); err != nil {
			return err
		}
		if s.Stage != StagePre && s.Stage != StagePost {
			return exceptions.Validation("invalid_stage", "invalid stage '%s' for migration %s", s.Stage, s)
		}
		if s.Run == nil {
			return exceptions.Validation("invalid_migration", "migration %s has no function", s)
		}
	}
	return nil
}

// Pending returns the scripts of the given stage that must be run when
// upgrading from installed to declared, that is those with
// installed < version <= declared, ordered by version then name.
//
// A fresh install (installed is empty) has no pending scripts.
func Pending(scripts []Script, installed, declared string, stage Stage) ([]Script, error) {
	if installed == "" {
		return nil, nil
	}
	if err := Validate(scripts); err != nil {
		return nil, err
	}
	var res []Script
	for _, s := range scripts {
		if s.Stage != stage {
			continue
		}
		lower, err := CompareVersions(installed, s.Version)
		if err != nil {
			return nil, err
		}
		upper, err := CompareVersions(s.Version, declared)
		if err != nil {
			return nil, err
		}
		if lower < 0 && upper <= 0 {
			res = append(res, s)
		}
	}
	sort.SliceStable(res, func(i, j int) bool {
		c, _ := CompareVersions(res[i].Version, res[j].Version)
		if c != 0 {
			return c < 0
		}
		return res[i].Name < res[j].Name
	})
	return res, nil
}

// Run executes the pending scripts of the given stage for module in the
// transaction of cr. It stops at the first failing script and returns its
// error, which must abort the upgrade transaction.
func Run(cr *models.Cursor, module string, scripts []Script, installed, declared string, stage Stage) error {
	pending, err := Pending(scripts, installed, declared, stage)
	if err != nil {
		return err
	}
	for _, s := range pending {
		log.Info("Running migration", "module", module, "script", s.String(), "from", installed)
		if err := s.Run(cr, installed); err != nil {
			return errors.Wrapf(err, "migration %s of module %s failed", s, module)
		}
	}
	return nil
}
