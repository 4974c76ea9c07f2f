package utils

import (
	"fmt"
	"reflect"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// An AttributeMap is a convenience wrapper around untyped configuration
// attributes, such as driver connection parameters.
type AttributeMap map[string]interface{}

func (am AttributeMap) Has(name string) bool {
	_, has := am[name]
	return has
}

func (am AttributeMap) GetString(name string) string {
	x := am[name]
	if x == nil {
		return ""
	}

	s, ok := x.(string)
	if ok {
		return s
	}

	panic(fmt.Errorf("wanted a string for (%s) but got (%v) %T", name, x, x))
}

func (am AttributeMap) GetInt(name string, def int) int {
	x, has := am[name]
	if !has {
		return def
	}

	v, ok := x.(int)
	if ok {
		return v
	}

	v2, ok := x.(float64)
	if ok {
		// json decodes numbers to float64
		return int(v2)
	}

	panic(fmt.Errorf("wanted an int for (%s) but got (%v) %T", name, x, x))
}

func (am AttributeMap) GetFloat64(name string, def float64) float64 {
	x, has := am[name]
	if !has {
		return def
	}

	v, ok := x.(float64)
	if ok {
		return v
	}

	v2, ok := x.(int)
	if ok {
		return float64(v2)
	}

	panic(fmt.Errorf("wanted a float64 for (%s) but got (%v) %T", name, x, x))
}

func (am AttributeMap) GetBool(name string, def bool) bool {
	x, has := am[name]
	if !has {
		return def
	}

	v, ok := x.(bool)
	if ok {
		return v
	}

	panic(fmt.Errorf("wanted a bool for (%s) but got (%v) %T", name, x, x))
}

// Copy returns a shallow copy so a caller can replace an attribute set
// atomically without mutating one shared by readers.
func (am AttributeMap) Copy() AttributeMap {
	out := make(AttributeMap, len(am))
	for k, v := range am {
		out[k] = v
	}
	return out
}

// TransformAttributeMap uses an attribute map to transform attributes to the
// given type (T), mapping JSON-ish field names to struct fields via json tags.
func TransformAttributeMap[T any](attributes AttributeMap) (T, error) {
	var out T

	var forResult interface{}

	toT := reflect.TypeOf(out)
	if toT == nil {
		// nothing to transform
		return out, nil
	}
	if toT.Kind() == reflect.Ptr {
		// needs to be allocated then
		var ok bool
		out, ok = reflect.New(toT.Elem()).Interface().(T)
		if !ok {
			return out, errors.Errorf("failed to allocate default attribute type %T", out)
		}
		forResult = out
	} else {
		forResult = &out
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "json",
		Result:  forResult,
	})
	if err != nil {
		return out, err
	}

	if err := decoder.Decode(map[string]interface{}(attributes)); err != nil {
		return out, err
	}
	return out, nil
}
