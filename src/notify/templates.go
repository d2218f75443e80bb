// Copyright 2018 NDP Systèmes. All Rights Reserved.
// See LICENSE file for full licensing details.

package notify

import (
	"io"
	"strings"
	"sync"

	"github.com/flosch/pongo2/v6"
	"github.com/hexya-erp/erpkit/src/tools/exceptions"
)

// Templates is the template set of the application
var Templates *TemplateSet

// A TemplateSet is a set of pongo2 templates.
//
// Named templates can be registered by modules so that other templates
// include or extend them. Anonymous templates are compiled once and kept
// in a cache keyed by their source.
type TemplateSet struct {
	set        *pongo2.TemplateSet
	collection *collection
	compiled   sync.Map
}

// NewTemplateSet returns a pointer to a new empty TemplateSet
func NewTemplateSet() *TemplateSet {
	coll := &collection{sources: make(map[string]string)}
	return &TemplateSet{
		set:        pongo2.NewSet("notify", coll),
		collection: coll,
	}
}

// Register adds a named template to this set. Registering a name again
// replaces the previous template.
func (ts *TemplateSet) Register(name, source string) error {
	if _, err := ts.set.FromString(source); err != nil {
		return exceptions.Validation("invalid_template", "invalid template %s: %s", name, err)
	}
	ts.collection.add(name, source)
	return nil
}

// compile returns the compiled template of source, from the cache if any
func (ts *TemplateSet) compile(source string) (*pongo2.Template, error) {
	if cached, ok := ts.compiled.Load(source); ok {
		return cached.(*pongo2.Template), nil
	}
	tpl, err := ts.set.FromString(source)
	if err != nil {
		return nil, exceptions.Validation("invalid_template", "invalid template: %s", err)
	}
	ts.compiled.Store(source, tpl)
	return tpl, nil
}

// Check returns an error if source is not a valid template. The
// template is not executed.
func (ts *TemplateSet) Check(source string) error {
	_, err := ts.compile(source)
	return err
}

// Render renders the given template source with values
func (ts *TemplateSet) Render(source string, values map[string]interface{}) (string, error) {
	tpl, err := ts.compile(source)
	if err != nil {
		return "", err
	}
	res, err := tpl.Execute(pongo2.Context(values))
	if err != nil {
		return "", exceptions.Validation("template_error", "unable to render template: %s", err)
	}
	return res, nil
}

// RenderNamed renders the registered template with the given name
func (ts *TemplateSet) RenderNamed(name string, values map[string]interface{}) (string, error) {
	source, ok := ts.collection.get(name)
	if !ok {
		return "", exceptions.NotFound("unknown_template", "unknown template %s", name)
	}
	return ts.Render(source, values)
}

// Render renders the given template source with values in the
// application template set.
func Render(source string, values map[string]interface{}) (string, error) {
	return Templates.Render(source, values)
}

// Check checks the syntax of source in the application template set
func Check(source string) error {
	return Templates.Check(source)
}

// A collection holds the sources of named templates. It is the pongo2
// loader of a TemplateSet.
type collection struct {
	sync.RWMutex
	sources map[string]string
}

func (c *collection) add(name, source string) {
	c.Lock()
	defer c.Unlock()
	c.sources[name] = source
}

func (c *collection) get(name string) (string, bool) {
	c.RLock()
	defer c.RUnlock()
	s, ok := c.sources[name]
	return s, ok
}

// Abs returns the name of the template, which is already absolute.
func (c *collection) Abs(base, name string) string {
	return name
}

// Get returns a reader on the source of the template with the given name
func (c *collection) Get(path string) (io.Reader, error) {
	source, ok := c.get(path)
	if !ok {
		return nil, exceptions.NotFound("unknown_template", "unknown template %s", path)
	}
	return strings.NewReader(source), nil
}

var _ pongo2.TemplateLoader = new(collection)
