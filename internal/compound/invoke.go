package compound

import (
	"errors"
	"fmt"
	"reflect"
)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// Invoke calls method with args on every element and returns the results in
// order. An element without the method stops the broadcast with a
// *CapabilityError. Methods whose last result is an error propagate it.
//
// Results are unpacked by shape: no result yields nil, one non-error result
// yields that value, several non-error results yield a []any.
func (c *Compound[T]) Invoke(method string, args ...any) (*Compound[any], error) {
	out := make([]any, 0, c.Len())
	for i, v := range c.Items() {
		r, err := invoke(any(v), method, args)
		if err != nil {
			if _, ok := err.(*CapabilityError); ok {
				return nil, missing(i, v, method, err)
			}
			if err == errNoMethod {
				return nil, missing(i, v, method, nil)
			}
			return nil, fmt.Errorf("compound: element %d (%s): %s: %w", i, identityOf(v), method, err)
		}
		out = append(out, r)
	}
	return &Compound[any]{items: out}, nil
}

func (c *Compound[T]) broadcast(method string, args []any) (any, error) {
	return c.Invoke(method, args...)
}

var errNoMethod = errors.New("no such method")

func invoke(v any, method string, args []any) (any, error) {
	if b, ok := v.(broadcaster); ok {
		return b.broadcast(method, args)
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return nil, errNoMethod
	}
	m := rv.MethodByName(method)
	if !m.IsValid() {
		return nil, errNoMethod
	}
	in, err := buildArgs(m.Type(), args)
	if err != nil {
		return nil, err
	}
	return unpack(m.Call(in))
}

func buildArgs(mt reflect.Type, args []any) ([]reflect.Value, error) {
	numIn := mt.NumIn()
	if mt.IsVariadic() {
		if len(args) < numIn-1 {
			return nil, fmt.Errorf("%w: want at least %d, got %d", ErrBadArguments, numIn-1, len(args))
		}
	} else if len(args) != numIn {
		return nil, fmt.Errorf("%w: want %d, got %d", ErrBadArguments, numIn, len(args))
	}

	in := make([]reflect.Value, len(args))
	for i, arg := range args {
		var t reflect.Type
		if mt.IsVariadic() && i >= numIn-1 {
			t = mt.In(numIn - 1).Elem()
		} else {
			t = mt.In(i)
		}
		av, err := argValue(arg, t)
		if err != nil {
			return nil, fmt.Errorf("%w: argument %d: %v", ErrBadArguments, i, err)
		}
		in[i] = av
	}
	return in, nil
}

func argValue(arg any, t reflect.Type) (reflect.Value, error) {
	if arg == nil {
		switch t.Kind() {
		case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
			return reflect.Zero(t), nil
		}
		return reflect.Value{}, fmt.Errorf("nil is not assignable to %s", t)
	}
	av := reflect.ValueOf(arg)
	if av.Type().AssignableTo(t) {
		return av, nil
	}
	if _, ok := toFloat(arg); ok && isNumeric(t) {
		return av.Convert(t), nil
	}
	return reflect.Value{}, fmt.Errorf("%s is not assignable to %s", av.Type(), t)
}

func isNumeric(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func unpack(out []reflect.Value) (any, error) {
	if n := len(out); n > 0 && out[n-1].Type() == errorType {
		if !out[n-1].IsNil() {
			return nil, out[n-1].Interface().(error)
		}
		out = out[:n-1]
	}
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		return out[0].Interface(), nil
	}
	values := make([]any, len(out))
	for i, o := range out {
		values[i] = o.Interface()
	}
	return values, nil
}
