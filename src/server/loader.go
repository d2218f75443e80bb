// Copyright 2017 NDP Systèmes. All Rights Reserved.
// See LICENSE file for full licensing details.

package server

import (
	"context"
	"sort"

	"github.com/hexya-erp/erpkit/src/migrations"
	"github.com/hexya-erp/erpkit/src/models"
	"github.com/hexya-erp/erpkit/src/models/security"
	"github.com/hexya-erp/erpkit/src/tools/exceptions"
	"github.com/pkg/errors"
)

// metadataLockKey is the advisory lock held while modules are installed,
// upgraded or uninstalled.
const metadataLockKey = "ir.module.module"

// The work the loader has to do on a module
type moduleWork int

const (
	workNone moduleWork = iota
	workInstall
	workUpgrade
)

// installedModule is the state of a module in the database
type installedModule struct {
	Name    string
	Version string
	State   string
}

// A Loader installs, upgrades and uninstalls the modules of a ModuleSet in
// a database and builds the registry of the installed modules.
type Loader struct {
	modules *ModuleSet
	db      *models.DB
}

// NewLoader returns a Loader of the given modules for db
func NewLoader(modules *ModuleSet, db *models.DB) *Loader {
	return &Loader{modules: modules, db: db}
}

// A loadRequest describes what a loader pass must do
type loadRequest struct {
	install    []string
	upgrade    []string
	upgradeAll bool
	demo       bool
}

// Load builds the Bundle of the installed modules. Auto-install modules
// whose dependencies are all installed are installed first.
func (l *Loader) Load(ctx context.Context) (*Bundle, error) {
	return l.run(ctx, loadRequest{})
}

// Install installs the given modules and their dependencies. Demo data
// files of the newly installed modules are loaded if demo is true.
func (l *Loader) Install(ctx context.Context, names []string, demo bool) (*Bundle, error) {
	return l.run(ctx, loadRequest{install: names, demo: demo})
}

// Upgrade upgrades the given installed modules and the installed modules
// that depend on them. All installed modules are upgraded if names is empty.
func (l *Loader) Upgrade(ctx context.Context, names []string) (*Bundle, error) {
	return l.run(ctx, loadRequest{upgrade: names, upgradeAll: len(names) == 0})
}

// installedModules returns the modules recorded in the database, creating
// the metadata tables if needed.
func (l *Loader) installedModules(ctx context.Context) (map[string]installedModule, error) {
	reg, err := models.Finalize(nil)
	if err != nil {
		return nil, err
	}
	reg.Bind(l.db)
	res := make(map[string]installedModule)
	err = reg.ExecuteInNewEnvironment(ctx, security.SuperUserID, func(env models.Environment) error {
		if err := models.SyncDatabase(env); err != nil {
			return err
		}
		recs, err := env.Pool(models.ModuleModel).Search(models.NewCondition().
			And().Field("state").NotEquals(models.ModuleUninstalled))
		if err != nil {
			return err
		}
		vals, err := recs.Read("name", "version", "state")
		if err != nil {
			return err
		}
		for _, v := range vals {
			name, _ := v["name"].(string)
			version, _ := v["version"].(string)
			state, _ := v["state"].(string)
			res[name] = installedModule{Name: name, Version: version, State: state}
		}
		return nil
	})
	return res, err
}

// addWithDeps adds name and its dependencies to target. newly is true when
// the module is not installed yet.
func (l *Loader) addWithDeps(target map[string]bool, name string, installed map[string]installedModule) error {
	if target[name] {
		return nil
	}
	mod := l.modules.Get(name)
	if mod == nil {
		return exceptions.NotFound("unknown_module", "module %s is not available", name)
	}
	if _, ok := installed[name]; !ok && !mod.Manifest.IsInstallable() {
		return exceptions.Validation("not_installable", "module %s is not installable", name)
	}
	target[name] = true
	for _, dep := range mod.Manifest.Depends {
		if err := l.addWithDeps(target, dep, installed); err != nil {
			return errors.Wrapf(err, "dependency of %s", name)
		}
	}
	return nil
}

// addAutoInstall adds to target the auto-install modules whose dependencies
// are all in target, until no more module can be added.
func (l *Loader) addAutoInstall(target map[string]bool) {
	for changed := true; changed; {
		changed = false
		for _, name := range l.modules.Names() {
			mod := l.modules.Get(name)
			if target[name] || !mod.Manifest.AutoInstall || !mod.Manifest.IsInstallable() {
				continue
			}
			ready := true
			for _, dep := range mod.Manifest.Depends {
				if !target[dep] {
					ready = false
					break
				}
			}
			if ready {
				log.Info("Auto-installing module", "module", name)
				target[name] = true
				changed = true
			}
		}
	}
}

// order returns the modules of target in load order
func (l *Loader) order(target map[string]bool) ([]string, error) {
	deps := make(map[string][]string, len(target))
	for name := range target {
		deps[name] = l.modules.Get(name).Manifest.Depends
	}
	return models.Linearize(deps)
}

// declarers returns the declarers of the given modules
func (l *Loader) declarers(names []string) []*models.Declarer {
	res := make([]*models.Declarer, len(names))
	for i, name := range names {
		mod := l.modules.Get(name)
		d := models.NewDeclarer(name, mod.Manifest.Depends...)
		if mod.Declare != nil {
			mod.Declare(d)
		}
		res[i] = d
	}
	return res
}

// bundle finalizes the registry of the given modules, binds it to the
// database and loads the resources of the modules.
func (l *Loader) bundle(names []string) (*Bundle, error) {
	reg, err := models.Finalize(l.declarers(names))
	if err != nil {
		return nil, err
	}
	reg.Bind(l.db)
	b := newBundle(reg)
	b.Modules = names
	for _, name := range names {
		if err := b.loadResources(l.modules.Get(name)); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// run executes a loader pass
func (l *Loader) run(ctx context.Context, req loadRequest) (*Bundle, error) {
	installed, err := l.installedModules(ctx)
	if err != nil {
		return nil, err
	}
	target := make(map[string]bool)
	for _, name := range sortedKeys(installed) {
		if err := l.addWithDeps(target, name, installed); err != nil {
			return nil, errors.Wrap(err, "installed module")
		}
	}
	for _, name := range req.upgrade {
		if _, ok := installed[name]; !ok {
			return nil, exceptions.Validation("not_installed", "module %s is not installed", name)
		}
	}
	for _, name := range req.install {
		if err := l.addWithDeps(target, name, installed); err != nil {
			return nil, err
		}
	}
	l.addAutoInstall(target)
	order, err := l.order(target)
	if err != nil {
		return nil, err
	}
	work := l.plan(order, installed, req)
	for i, name := range order {
		if work[name] == workNone {
			continue
		}
		if err := l.loadModule(ctx, order[:i+1], installed[name], work[name], req.demo); err != nil {
			return nil, errors.Wrapf(err, "unable to load module %s", name)
		}
	}
	b, err := l.bundle(order)
	if err != nil {
		return nil, err
	}
	for _, name := range order {
		if err := loadTranslations(l.modules.Get(name)); err != nil {
			return nil, errors.Wrapf(err, "translations of module %s", name)
		}
	}
	if err := b.finalize(); err != nil {
		return nil, err
	}
	l.notifyLoaded(b)
	log.Info("Modules loaded", "modules", order)
	return b, nil
}

// plan returns the work to do on each module of order
func (l *Loader) plan(order []string, installed map[string]installedModule, req loadRequest) map[string]moduleWork {
	upgrade := make(map[string]bool)
	for _, name := range req.upgrade {
		upgrade[name] = true
	}
	work := make(map[string]moduleWork, len(order))
	for _, name := range order {
		st, ok := installed[name]
		switch {
		case !ok:
			work[name] = workInstall
		case req.upgradeAll || upgrade[name] || st.State == models.ModuleToUpgrade:
			work[name] = workUpgrade
		default:
			for _, dep := range l.modules.Get(name).Manifest.Depends {
				if work[dep] == workUpgrade {
					work[name] = workUpgrade
					break
				}
			}
			if work[name] == workNone && st.Version != l.modules.Get(name).Manifest.Version {
				log.Warn("Module version changed, upgrade it to run migrations", "module", name,
					"installed", st.Version, "declared", l.modules.Get(name).Manifest.Version)
			}
		}
	}
	return work
}

// loadModule installs or upgrades the last module of prefix in a single
// transaction holding the metadata lock.
func (l *Loader) loadModule(ctx context.Context, prefix []string, st installedModule, work moduleWork, demo bool) error {
	name := prefix[len(prefix)-1]
	mod := l.modules.Get(name)
	b, err := l.bundle(prefix)
	if err != nil {
		return err
	}
	declared := mod.Manifest.Version
	return b.Registry.ExecuteInNewEnvironment(ctx, security.SuperUserID, func(env models.Environment) error {
		locked, err := env.TryLock(metadataLockKey)
		if err != nil {
			return err
		}
		if !locked {
			return exceptions.Conflict("metadata_locked", "modules are being updated by another process")
		}
		switch work {
		case workInstall:
			log.Info("Installing module", "module", name, "version", declared)
			if mod.PreInit != nil {
				if err := mod.PreInit(env); err != nil {
					return errors.Wrap(err, "pre-init hook")
				}
			}
		case workUpgrade:
			log.Info("Upgrading module", "module", name, "from", st.Version, "to", declared)
			if err := migrations.Run(env.Cr(), name, mod.Migrations, st.Version, declared, migrations.StagePre); err != nil {
				return err
			}
		}
		if err := models.SyncDatabase(env); err != nil {
			return err
		}
		files := mod.Manifest.Data
		if work == workInstall && demo {
			files = append(append([]string(nil), files...), mod.Manifest.Demo...)
		}
		loader := models.NewDataLoader(env, name, mod.Resources, work == workUpgrade)
		for _, file := range files {
			if err := loader.LoadFile(file); err != nil {
				return err
			}
		}
		switch work {
		case workInstall:
			if mod.PostInit != nil {
				if err := mod.PostInit(env); err != nil {
					return errors.Wrap(err, "post-init hook")
				}
			}
		case workUpgrade:
			if err := migrations.Run(env.Cr(), name, mod.Migrations, st.Version, declared, migrations.StagePost); err != nil {
				return err
			}
		}
		return setModuleState(env, mod, models.ModuleInstalled)
	})
}

// setModuleState records the version and state of mod in the database
func setModuleState(env models.Environment, mod *Module, state string) error {
	modules := env.Pool(models.ModuleModel)
	rec, err := modules.Search(models.NewCondition().And().Field("name").Equals(mod.Name()))
	if err != nil {
		return err
	}
	vals := models.FieldMap{
		"version":      mod.Manifest.Version,
		"state":        state,
		"auto_install": mod.Manifest.AutoInstall,
		"application":  mod.Manifest.Application,
		"summary":      mod.Manifest.Summary,
	}
	if rec.IsNotEmpty() {
		return rec.Write(vals)
	}
	vals["name"] = mod.Name()
	_, err = modules.Create(vals)
	return err
}

// Uninstall uninstalls the given modules and the installed modules that
// depend on them, in reverse load order. The records created by the data
// files of these modules are deleted. Tables and columns are kept.
func (l *Loader) Uninstall(ctx context.Context, names []string) (*Bundle, error) {
	installed, err := l.installedModules(ctx)
	if err != nil {
		return nil, err
	}
	target := make(map[string]bool)
	for _, name := range sortedKeys(installed) {
		if err := l.addWithDeps(target, name, installed); err != nil {
			return nil, err
		}
	}
	order, err := l.order(target)
	if err != nil {
		return nil, err
	}
	remove := make(map[string]bool)
	for _, name := range names {
		if _, ok := installed[name]; !ok {
			return nil, exceptions.Validation("not_installed", "module %s is not installed", name)
		}
		remove[name] = true
	}
	for _, name := range order {
		for _, dep := range l.modules.Get(name).Manifest.Depends {
			if remove[dep] {
				remove[name] = true
			}
		}
	}
	b, err := l.bundle(order)
	if err != nil {
		return nil, err
	}
	for i := len(order) - 1; i >= 0; i-- {
		name := order[i]
		if !remove[name] {
			continue
		}
		if err := l.uninstallModule(ctx, b, l.modules.Get(name)); err != nil {
			return nil, errors.Wrapf(err, "unable to uninstall module %s", name)
		}
	}
	var remaining []string
	for _, name := range order {
		if !remove[name] {
			remaining = append(remaining, name)
		}
	}
	res, err := l.bundle(remaining)
	if err != nil {
		return nil, err
	}
	if err := res.finalize(); err != nil {
		return nil, err
	}
	l.notifyLoaded(res)
	return res, nil
}

// uninstallModule runs the uninstall hook of mod and deletes its records
func (l *Loader) uninstallModule(ctx context.Context, b *Bundle, mod *Module) error {
	return b.Registry.ExecuteInNewEnvironment(ctx, security.SuperUserID, func(env models.Environment) error {
		locked, err := env.TryLock(metadataLockKey)
		if err != nil {
			return err
		}
		if !locked {
			return exceptions.Conflict("metadata_locked", "modules are being updated by another process")
		}
		log.Info("Uninstalling module", "module", mod.Name())
		if mod.Uninstall != nil {
			if err := mod.Uninstall(env); err != nil {
				return errors.Wrap(err, "uninstall hook")
			}
		}
		xids, err := env.Pool(models.ModelDataModel).OrderBy("id desc").Search(models.NewCondition().
			And().Field("module").Equals(mod.Name()))
		if err != nil {
			return err
		}
		vals, err := xids.Read("model", "res_id")
		if err != nil {
			return err
		}
		for _, v := range vals {
			model := v["model"].(string)
			if b.Registry.Get(model) == nil {
				continue
			}
			rec, err := env.Pool(model).Search(models.NewCondition().And().Field("id").Equals(v["res_id"]))
			if err != nil {
				return err
			}
			if err := rec.Unlink(); err != nil {
				return errors.Wrapf(err, "unable to delete %s record %d", model, v["res_id"])
			}
		}
		remaining, err := env.Pool(models.ModelDataModel).Search(models.NewCondition().
			And().Field("id").In(xids.Ids()))
		if err != nil {
			return err
		}
		if err := remaining.Unlink(); err != nil {
			return err
		}
		return setModuleState(env, mod, models.ModuleUninstalled)
	})
}

// notifyLoaded calls the OnLoad function of the modules of b
func (l *Loader) notifyLoaded(b *Bundle) {
	for _, name := range b.Modules {
		if mod := l.modules.Get(name); mod.OnLoad != nil {
			mod.OnLoad(b.Registry)
		}
	}
}

func sortedKeys(m map[string]installedModule) []string {
	res := make([]string, 0, len(m))
	for k := range m {
		res = append(res, k)
	}
	sort.Strings(res)
	return res
}

// A ModuleStatus describes an available module and its state in the
// database.
type ModuleStatus struct {
	Name             string
	Version          string
	InstalledVersion string
	State            string
	Summary          string
	AutoInstall      bool
	Application      bool
	Installable      bool
	Depends          []string
}

// Status returns the status of every available module, sorted by name
func (l *Loader) Status(ctx context.Context) ([]ModuleStatus, error) {
	installed, err := l.installedModules(ctx)
	if err != nil {
		return nil, err
	}
	names := l.modules.Names()
	res := make([]ModuleStatus, len(names))
	for i, name := range names {
		mod := l.modules.Get(name)
		st := ModuleStatus{
			Name:        name,
			Version:     mod.Manifest.Version,
			State:       models.ModuleUninstalled,
			Summary:     mod.Manifest.Summary,
			AutoInstall: mod.Manifest.AutoInstall,
			Application: mod.Manifest.Application,
			Installable: mod.Manifest.IsInstallable(),
			Depends:     mod.Manifest.Depends,
		}
		if im, ok := installed[name]; ok {
			st.InstalledVersion = im.Version
			st.State = im.State
		}
		res[i] = st
	}
	return res, nil
}

// Describe builds the Bundle of the given modules and their dependencies
// without reading nor modifying the database.
func (l *Loader) Describe(names []string) (*Bundle, error) {
	target := make(map[string]bool)
	for _, name := range names {
		if err := l.addWithDeps(target, name, nil); err != nil {
			return nil, err
		}
	}
	order, err := l.order(target)
	if err != nil {
		return nil, err
	}
	b, err := l.bundle(order)
	if err != nil {
		return nil, err
	}
	for _, name := range order {
		if err := loadTranslations(l.modules.Get(name)); err != nil {
			return nil, errors.Wrapf(err, "translations of module %s", name)
		}
	}
	return b, b.finalize()
}
