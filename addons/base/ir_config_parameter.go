// Copyright 2017 NDP Systèmes. All Rights Reserved.
// See LICENSE file for full licensing details.

package base

import (
	"fmt"

	"github.com/hexya-erp/erpkit/src/models"
)

// ConfigParameterModel is the name of the system parameters model
const ConfigParameterModel = "ir.config_parameter"

func declareConfigParameter(d *models.Declarer) {
	d.NewModel(ConfigParameterModel).
		SetDescription("System Parameter").
		AddFields(map[string]models.FieldDefinition{
			"key":   models.Char{Required: true, Unique: true, Index: true},
			"value": models.Text{Required: true},
		}).
		SetDefaultOrder("key").
		AddMethod("get_param", func(rc *models.RecordCollection, args ...interface{}) (interface{}, error) {
			if len(args) == 0 {
				return nil, nil
			}
			var def string
			if len(args) > 1 && args[1] != nil {
				def = fmt.Sprintf("%v", args[1])
			}
			return GetParam(rc.Env(), fmt.Sprintf("%v", args[0]), def)
		}).
		AddMethod("set_param", func(rc *models.RecordCollection, args ...interface{}) (interface{}, error) {
			if len(args) < 2 {
				return nil, nil
			}
			return nil, SetParam(rc.Env(), fmt.Sprintf("%v", args[0]), fmt.Sprintf("%v", args[1]))
		})
}

// GetParam returns the value of the system parameter with the given key,
// or def if it is not set.
func GetParam(env models.Environment, key, def string) (string, error) {
	params, err := env.Pool(ConfigParameterModel).Search(models.NewCondition().And().Field("key").Equals(key))
	if err != nil || params.IsEmpty() {
		return def, err
	}
	val, err := params.Get("value")
	if err != nil {
		return def, err
	}
	return val.(string), nil
}

// SetParam sets the value of the system parameter with the given key.
// An empty value deletes the parameter.
func SetParam(env models.Environment, key, value string) error {
	params, err := env.Pool(ConfigParameterModel).Search(models.NewCondition().And().Field("key").Equals(key))
	if err != nil {
		return err
	}
	switch {
	case value == "":
		return params.Unlink()
	case params.IsEmpty():
		_, err = env.Pool(ConfigParameterModel).Create(models.FieldMap{"key": key, "value": value})
		return err
	}
	return params.Write(models.FieldMap{"value": value})
}
