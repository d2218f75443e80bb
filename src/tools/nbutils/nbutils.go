// Copyright 2017 NDP Systèmes. All Rights Reserved.
// See LICENSE file for full licensing details.

// Package nbutils holds numeric helpers: casting values received from
// JSON, CSV or the database, and decimal rounding of floats.
package nbutils

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/cockroachdb/apd/v2"
)

// CastToInteger casts the given val to int64 if it is a number, a bool,
// a json.Number or a string holding an integer.
func CastToInteger(val interface{}) (int64, error) {
	switch value := val.(type) {
	case int64:
		return value, nil
	case int:
		return int64(value), nil
	case int8:
		return int64(value), nil
	case int16:
		return int64(value), nil
	case int32:
		return int64(value), nil
	case uint:
		return int64(value), nil
	case uint8:
		return int64(value), nil
	case uint16:
		return int64(value), nil
	case uint32:
		return int64(value), nil
	case uint64:
		return int64(value), nil
	case float32:
		return int64(value), nil
	case float64:
		return int64(value), nil
	case bool:
		if value {
			return 1, nil
		}
		return 0, nil
	case json.Number:
		return value.Int64()
	case string:
		return strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	case []byte:
		return strconv.ParseInt(strings.TrimSpace(string(value)), 10, 64)
	default:
		return 0, fmt.Errorf("value %v cannot be casted to int64", val)
	}
}

// CastToFloat casts the given val to float64 if it is a number, a bool,
// a json.Number or a numeric string. Numeric columns are returned as
// []byte by some drivers.
func CastToFloat(val interface{}) (float64, error) {
	switch value := val.(type) {
	case float64:
		return value, nil
	case float32:
		return float64(value), nil
	case bool:
		if value {
			return 1, nil
		}
		return 0, nil
	case json.Number:
		return value.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(value), 64)
	case []byte:
		return strconv.ParseFloat(strings.TrimSpace(string(value)), 64)
	default:
		i, err := CastToInteger(val)
		if err != nil {
			return 0, fmt.Errorf("value %v cannot be casted to float64", val)
		}
		return float64(i), nil
	}
}

// Digits holds precision and scale information for a float (numeric) type:
//   - The precision: the total count of significant digits in the whole number,
//     that is, the number of digits to both sides of the decimal point.
//   - The scale: the count of decimal digits in the fractional part,
//     to the right of the decimal point
type Digits struct {
	Precision int8
	Scale     int8
}

// IsZero returns true if no precision is set
func (d Digits) IsZero() bool {
	return d.Precision == 0 && d.Scale == 0
}

// ToPrecision returns the given digits as a precision float, e.g. 0.01 for scale 2
func (d Digits) ToPrecision() float64 {
	return math.Pow10(int(-d.Scale))
}

var ctx = apd.Context{
	MaxExponent: apd.MaxExponent,
	MinExponent: apd.MinExponent,
	Traps:       apd.DefaultTraps,
	Rounding:    apd.RoundHalfUp,
	Precision:   128,
}

// applyDecimalOperation divides value by precision, applies fnct and multiplies back.
func applyDecimalOperation(value, precision float64, fnct func(d, x *apd.Decimal) (apd.Condition, error)) (float64, error) {
	val, err := apd.New(0, 0).SetFloat64(value)
	if err != nil {
		return 0, fmt.Errorf("error while rounding %f: %s", value, err)
	}
	prec, err := apd.New(0, 0).SetFloat64(precision)
	if err != nil {
		return 0, fmt.Errorf("error while rounding precision %f: %s", precision, err)
	}
	normalized := apd.New(0, 0)
	if _, err = ctx.Quo(normalized, val, prec); err != nil {
		return 0, fmt.Errorf("error while rounding %f: %s", value, err)
	}
	if _, err = fnct(normalized, normalized); err != nil {
		return 0, fmt.Errorf("error while rounding %f: %s", value, err)
	}
	if _, err = ctx.Mul(normalized, normalized, prec); err != nil {
		return 0, fmt.Errorf("error while rounding %f: %s", value, err)
	}
	return normalized.Float64()
}

// Round rounds the given val to the given precision, which is a float such as :
//
// - 0.01 to round at the nearest 100th
// - 10 to round at the nearest ten
//
// This function uses the round half up rounding method.
func Round(value float64, precision float64) float64 {
	if precision == 0 {
		return value
	}
	res, err := applyDecimalOperation(value, precision, ctx.RoundToIntegralExact)
	if err != nil {
		return value
	}
	return res
}

// Compare 'value1' and 'value2' after rounding them according to the
// given precision. The returned value is -1 if value1 is lower than value2,
// 0 if they are equal and 1 if value1 is greater.
func Compare(value1, value2 float64, precision float64) int8 {
	r1, r2 := Round(value1, precision), Round(value2, precision)
	switch {
	case r1 == r2:
		return 0
	case r1 > r2:
		return 1
	default:
		return -1
	}
}
