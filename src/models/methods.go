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
	"strings"

	"github.com/hexya-erp/erpkit/src/tools/exceptions"
)

// A MethodFunc is the implementation of one layer of a model method.
//
// rc is the receiver record set. Inside a MethodFunc, rc.Super() calls the
// next layer with the same receiver.
type MethodFunc func(rc *RecordCollection, args ...interface{}) (interface{}, error)

// A MethodLayer is one implementation of a method, contributed by a module
// to a model or to one of its mixins.
type MethodLayer struct {
	module string
	model  string
	fnct   MethodFunc
}

// Module returns the module that contributed this layer
func (ml *MethodLayer) Module() string {
	return ml.module
}

// Model returns the model (or mixin) this layer was declared on
func (ml *MethodLayer) Model() string {
	return ml.model
}

// Func returns the implementation of this layer
func (ml *MethodLayer) Func() MethodFunc {
	return ml.fnct
}

// A Method is a definition of a model's method with its resolved layers.
// layers[0] is the top layer, called first.
type Method struct {
	name   string
	model  *Model
	layers []*MethodLayer
}

// Name returns the name of this method
func (m *Method) Name() string {
	return m.name
}

// Layers returns the layers of this method, top layer first
func (m *Method) Layers() []*MethodLayer {
	return append([]*MethodLayer(nil), m.layers...)
}

// IsPublic returns true if this method may be called through RPC.
// Methods whose name starts with an underscore are private.
func (m *Method) IsPublic() bool {
	return IsPublicMethod(m.name)
}

// IsPublicMethod returns true if a method with the given name may be
// called through RPC.
func IsPublicMethod(name string) bool {
	return name != "" && !strings.HasPrefix(name, "_")
}

// A callFrame holds the position of the executing layer of a method call
type callFrame struct {
	method *Method
	index  int
}

// Call calls the given method of the model on this record set with the
// given arguments.
func (rc *RecordCollection) Call(methodName string, args ...interface{}) (interface{}, error) {
	meth, ok := rc.model.methods[methodName]
	if !ok {
		return nil, exceptions.NotFound("unknown_method", "unknown method %s on model %s", methodName, rc.model.name)
	}
	return rc.callLayer(meth, 0, args...)
}

// Super calls the next layer of the currently executing method.
//
// It returns a system error if rc is not inside a method call or if there
// is no layer left.
func (rc *RecordCollection) Super(args ...interface{}) (interface{}, error) {
	if rc.frame == nil {
		return nil, exceptions.Systemf("no_method", "Super called outside of a method on %s", rc.model.name)
	}
	return rc.callLayer(rc.frame.method, rc.frame.index+1, args...)
}

// callLayer executes the layer at the given index of meth
func (rc *RecordCollection) callLayer(meth *Method, index int, args ...interface{}) (interface{}, error) {
	if index >= len(meth.layers) {
		return nil, exceptions.Systemf("not_implemented", "method %s of model %s has no implementation below layer %d", meth.name, meth.model.name, index)
	}
	frc := rc.withFrame(&callFrame{method: meth, index: index})
	return meth.layers[index].fnct(frc, args...)
}
