// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package payload

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
)

var (
	// ErrUnsupported is returned for inputs with no JSON representation
	// (channels, funcs, non-finite numbers, non-string map keys).
	ErrUnsupported = errors.New("payload: unsupported value")
	// ErrCycle is returned when a map or slice contains itself.
	ErrCycle = errors.New("payload: cyclic structure")
)

// FromAny converts plain Go data into a Value. Maps must have string keys.
// Structs are converted through their JSON encoding.
func FromAny(in any) (Value, error) {
	return fromAny(in, map[uintptr]struct{}{})
}

// MustFromAny is FromAny for literals in tests and fixtures.
func MustFromAny(in any) Value {
	v, err := FromAny(in)
	if err != nil {
		panic(err)
	}
	return v
}

func fromAny(in any, seen map[uintptr]struct{}) (Value, error) {
	switch t := in.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case *Value:
		if t == nil {
			return Null(), nil
		}
		return *t, nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("%w: number %q: %v", ErrUnsupported, t, err)
		}
		return finite(f)
	case float64:
		return finite(t)
	case float32:
		return finite(float64(t))
	case int:
		return Int(int64(t)), nil
	case int8:
		return Int(int64(t)), nil
	case int16:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint:
		return Number(float64(t)), nil
	case uint8:
		return Number(float64(t)), nil
	case uint16:
		return Number(float64(t)), nil
	case uint32:
		return Number(float64(t)), nil
	case uint64:
		return Number(float64(t)), nil
	case map[string]Value:
		return Map(t), nil
	case []Value:
		return List(t...), nil
	}
	return fromReflect(reflect.ValueOf(in), seen)
}

func finite(f float64) (Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{}, fmt.Errorf("%w: non-finite number", ErrUnsupported)
	}
	return Number(f), nil
}

func fromReflect(rv reflect.Value, seen map[uintptr]struct{}) (Value, error) {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return Null(), nil
		}
		if rv.Kind() == reflect.Pointer {
			ptr := rv.Pointer()
			if _, ok := seen[ptr]; ok {
				return Value{}, ErrCycle
			}
			seen[ptr] = struct{}{}
			defer delete(seen, ptr)
		}
		return fromAny(rv.Elem().Interface(), seen)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return Value{}, fmt.Errorf("%w: map key type %s", ErrUnsupported, rv.Type().Key())
		}
		if rv.IsNil() {
			return Null(), nil
		}
		ptr := rv.Pointer()
		if _, ok := seen[ptr]; ok {
			return Value{}, ErrCycle
		}
		seen[ptr] = struct{}{}
		defer delete(seen, ptr)
		m := make(map[string]Value, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			e, err := fromAny(iter.Value().Interface(), seen)
			if err != nil {
				return Value{}, err
			}
			m[iter.Key().String()] = e
		}
		return Value{kind: KindMap, m: m}, nil
	case reflect.Slice:
		if rv.IsNil() {
			return Null(), nil
		}
		if rv.Len() > 0 {
			ptr := rv.Pointer()
			if _, ok := seen[ptr]; ok {
				return Value{}, ErrCycle
			}
			seen[ptr] = struct{}{}
			defer delete(seen, ptr)
		}
		return fromList(rv, seen)
	case reflect.Array:
		return fromList(rv, seen)
	case reflect.Bool:
		return Bool(rv.Bool()), nil
	case reflect.String:
		return String(rv.String()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Int(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return Number(float64(rv.Uint())), nil
	case reflect.Float32, reflect.Float64:
		return finite(rv.Float())
	case reflect.Struct:
		b, err := json.Marshal(rv.Interface())
		if err != nil {
			return Value{}, fmt.Errorf("%w: %v", ErrUnsupported, err)
		}
		var v Value
		if err := v.UnmarshalJSON(b); err != nil {
			return Value{}, err
		}
		return v, nil
	default:
		return Value{}, fmt.Errorf("%w: kind %s", ErrUnsupported, rv.Kind())
	}
}

func fromList(rv reflect.Value, seen map[uintptr]struct{}) (Value, error) {
	l := make([]Value, rv.Len())
	for i := range l {
		e, err := fromAny(rv.Index(i).Interface(), seen)
		if err != nil {
			return Value{}, err
		}
		l[i] = e
	}
	return Value{kind: KindList, l: l}, nil
}
