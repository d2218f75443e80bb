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

package server

import (
	"io/fs"
	"sort"
	"sync"

	"github.com/hexya-erp/erpkit/src/migrations"
	"github.com/hexya-erp/erpkit/src/models"
	"github.com/hexya-erp/erpkit/src/tools/exceptions"
	"gopkg.in/yaml.v3"
)

// ManifestFileName is the name of the manifest file in module resources
const ManifestFileName = "__manifest__.yaml"

// A Manifest describes a module
type Manifest struct {
	Name        string              `yaml:"name"`
	Version     string              `yaml:"version"`
	Category    string              `yaml:"category"`
	Summary     string              `yaml:"summary"`
	Author      string              `yaml:"author"`
	License     string              `yaml:"license"`
	Depends     []string            `yaml:"depends"`
	Data        []string            `yaml:"data"`
	Demo        []string            `yaml:"demo"`
	Assets      map[string][]string `yaml:"assets"`
	AutoInstall bool                `yaml:"auto_install"`
	Application bool                `yaml:"application"`
	Installable *bool               `yaml:"installable"`
}

// IsInstallable returns true unless the manifest explicitly forbids
// the installation of the module.
func (m Manifest) IsInstallable() bool {
	return m.Installable == nil || *m.Installable
}

// ParseManifest reads a YAML manifest
func ParseManifest(data []byte) (Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, exceptions.Validation("invalid_manifest", "invalid module manifest: %s", err)
	}
	if m.Name == "" {
		return m, exceptions.Validation("invalid_manifest", "module manifest has no name")
	}
	if m.Version == "" {
		m.Version = "1.0"
	}
	return m, nil
}

// A Hook is a function called by the loader during the installation,
// upgrade or uninstallation of a module, in the transaction of the module.
type Hook func(env models.Environment) error

// A Module is a go package that implements business features.
// This struct is used to register modules.
type Module struct {
	Manifest Manifest
	// Declare adds the models and methods of the module to its declarer
	Declare func(d *models.Declarer)
	// Resources holds the manifest, data, resources, security and i18n
	// files of the module.
	Resources  fs.FS
	Migrations []migrations.Script
	PreInit    Hook
	PostInit   Hook
	Uninstall  Hook
	// OnLoad is called with the final registry of each loader pass in
	// which the module is installed.
	OnLoad func(reg *models.Registry)
}

// Name of the module
func (m *Module) Name() string {
	return m.Manifest.Name
}

// loadManifest reads the manifest from the resources of the module if it
// has not been given in the Module struct.
func (m *Module) loadManifest() error {
	if m.Manifest.Name != "" || m.Resources == nil {
		if m.Manifest.Version == "" {
			m.Manifest.Version = "1.0"
		}
		return nil
	}
	data, err := fs.ReadFile(m.Resources, ManifestFileName)
	if err != nil {
		return exceptions.Validation("invalid_manifest", "unable to read module manifest: %s", err)
	}
	m.Manifest, err = ParseManifest(data)
	return err
}

// A ModuleSet is a set of modules available to the loader
type ModuleSet struct {
	sync.RWMutex
	modules map[string]*Module
}

// NewModuleSet returns a ModuleSet with the given modules
func NewModuleSet(mods ...*Module) (*ModuleSet, error) {
	ms := &ModuleSet{modules: make(map[string]*Module)}
	for _, mod := range mods {
		if err := ms.Add(mod); err != nil {
			return nil, err
		}
	}
	return ms, nil
}

// Add adds the given module to this set
func (ms *ModuleSet) Add(mod *Module) error {
	if err := mod.loadManifest(); err != nil {
		return err
	}
	if mod.Name() == "" {
		return exceptions.Validation("invalid_manifest", "module has no name")
	}
	if err := migrations.Validate(mod.Migrations); err != nil {
		return err
	}
	ms.Lock()
	defer ms.Unlock()
	if _, exists := ms.modules[mod.Name()]; exists {
		return exceptions.Conflict("duplicate_module", "module %s is registered twice", mod.Name())
	}
	ms.modules[mod.Name()] = mod
	return nil
}

// Get returns the module with the given name or nil
func (ms *ModuleSet) Get(name string) *Module {
	ms.RLock()
	defer ms.RUnlock()
	return ms.modules[name]
}

// Names returns the sorted names of the modules of this set
func (ms *ModuleSet) Names() []string {
	ms.RLock()
	defer ms.RUnlock()
	res := make([]string, 0, len(ms.modules))
	for name := range ms.modules {
		res = append(res, name)
	}
	sort.Strings(res)
	return res
}

// Modules is the set of modules compiled in the application
var Modules = &ModuleSet{modules: make(map[string]*Module)}

// RegisterModule registers the given module in the server
// This function should be called in the init() function of
// all erpkit addons.
func RegisterModule(mod *Module) {
	if err := Modules.Add(mod); err != nil {
		log.Panic("Unable to register module", "module", mod.Name(), "error", err)
	}
}
