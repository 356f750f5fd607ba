package vm

import (
	"fmt"
	"math"
	"strings"
)

func raisef(cls *ExcClass, format string, args ...any) error {
	return &Exception{Kind: cls.Kind, Msg: fmt.Sprintf(format, args...)}
}

func wantArgs(name string, args []Value, n int) error {
	if len(args) != n {
		return raisef(TypeErrorClass, "%s expects %d arguments, got %d", name, n, len(args))
	}
	return nil
}

// checkNoProxy guards native code against leaked proxies. The unwrap
// adapter removes proxies on instrumented call sites; a leak here means
// the chain was mis-composed.
func checkNoProxy(name string, args []Value) error {
	for _, a := range args {
		if _, ok := a.(*Proxy); ok {
			return raisef(TypeErrorClass, "%s received an opaque proxy value", name)
		}
	}
	return nil
}

func installBuiltins(g *Globals) {
	reg := func(name string, fn func(args []Value) (Value, error)) {
		g.Vars[name] = &Builtin{Name: name, Fn: fn}
	}

	reg("len", func(args []Value) (Value, error) {
		if err := wantArgs("len", args, 1); err != nil {
			return nil, err
		}
		if err := checkNoProxy("len", args); err != nil {
			return nil, err
		}
		switch x := args[0].(type) {
		case string:
			return int64(len(x)), nil
		case *List:
			return int64(len(x.Items)), nil
		case *Dict:
			return int64(x.Len()), nil
		}
		return nil, raisef(TypeErrorClass, "len of %s", TypeName(args[0]))
	})

	reg("abs", func(args []Value) (Value, error) {
		if err := wantArgs("abs", args, 1); err != nil {
			return nil, err
		}
		if err := checkNoProxy("abs", args); err != nil {
			return nil, err
		}
		switch x := args[0].(type) {
		case int64:
			if x < 0 {
				return -x, nil
			}
			return x, nil
		case float64:
			return math.Abs(x), nil
		}
		return nil, raisef(TypeErrorClass, "abs of %s", TypeName(args[0]))
	})

	reg("str", func(args []Value) (Value, error) {
		if err := wantArgs("str", args, 1); err != nil {
			return nil, err
		}
		if err := checkNoProxy("str", args); err != nil {
			return nil, err
		}
		if s, ok := args[0].(string); ok {
			return s, nil
		}
		r := Repr(args[0])
		return strings.Trim(r, "\""), nil
	})

	reg("int", func(args []Value) (Value, error) {
		if err := wantArgs("int", args, 1); err != nil {
			return nil, err
		}
		if err := checkNoProxy("int", args); err != nil {
			return nil, err
		}
		switch x := args[0].(type) {
		case int64:
			return x, nil
		case float64:
			return int64(x), nil
		case bool:
			if x {
				return int64(1), nil
			}
			return int64(0), nil
		case string:
			var v int64
			if _, err := fmt.Sscanf(x, "%d", &v); err != nil {
				return nil, raisef(ValueErrorClass, "cannot parse %q as int", x)
			}
			return v, nil
		}
		return nil, raisef(TypeErrorClass, "int of %s", TypeName(args[0]))
	})

	reg("float", func(args []Value) (Value, error) {
		if err := wantArgs("float", args, 1); err != nil {
			return nil, err
		}
		if err := checkNoProxy("float", args); err != nil {
			return nil, err
		}
		switch x := args[0].(type) {
		case int64:
			return float64(x), nil
		case float64:
			return x, nil
		case string:
			var v float64
			if _, err := fmt.Sscanf(x, "%g", &v); err != nil {
				return nil, raisef(ValueErrorClass, "cannot parse %q as float", x)
			}
			return v, nil
		}
		return nil, raisef(TypeErrorClass, "float of %s", TypeName(args[0]))
	})

	reg("range", func(args []Value) (Value, error) {
		if err := checkNoProxy("range", args); err != nil {
			return nil, err
		}
		asInt := func(v Value) (int64, error) {
			n, ok := v.(int64)
			if !ok {
				return 0, raisef(TypeErrorClass, "range expects int, got %s", TypeName(v))
			}
			return n, nil
		}
		r := &Range{Step: 1}
		switch len(args) {
		case 1:
			stop, err := asInt(args[0])
			if err != nil {
				return nil, err
			}
			r.Stop = stop
		case 2:
			start, err := asInt(args[0])
			if err != nil {
				return nil, err
			}
			stop, err := asInt(args[1])
			if err != nil {
				return nil, err
			}
			r.Start, r.Stop = start, stop
		case 3:
			start, err := asInt(args[0])
			if err != nil {
				return nil, err
			}
			stop, err := asInt(args[1])
			if err != nil {
				return nil, err
			}
			step, err := asInt(args[2])
			if err != nil {
				return nil, err
			}
			if step == 0 {
				return nil, raisef(ValueErrorClass, "range step must not be zero")
			}
			r.Start, r.Stop, r.Step = start, stop, step
		default:
			return nil, raisef(TypeErrorClass, "range expects 1 to 3 arguments")
		}
		return r, nil
	})

	reg("type_name", func(args []Value) (Value, error) {
		if err := wantArgs("type_name", args, 1); err != nil {
			return nil, err
		}
		return TypeName(args[0]), nil
	})

	reg("print", func(args []Value) (Value, error) {
		// Output is discarded; target modules must stay side-effect
		// free towards the generator's own streams.
		return nil, nil
	})

	// Exception classes are plain globals so except clauses and raise
	// expressions resolve them by name.
	for _, c := range excClasses {
		g.Vars[c.Kind] = c
	}
}

// methodFor resolves attribute access on builtin types to bound native
// methods. String predicates are the dynamic-seeding capture points.
func methodFor(recv Value, name string) (Value, bool) {
	switch x := recv.(type) {
	case string:
		switch name {
		case "startswith":
			return stringMethod(name, x, func(s, arg string) Value { return strings.HasPrefix(s, arg) }), true
		case "endswith":
			return stringMethod(name, x, func(s, arg string) Value { return strings.HasSuffix(s, arg) }), true
		case "contains":
			return stringMethod(name, x, func(s, arg string) Value { return strings.Contains(s, arg) }), true
		case "upper":
			return nullaryStringMethod(name, x, strings.ToUpper), true
		case "lower":
			return nullaryStringMethod(name, x, strings.ToLower), true
		case "strip":
			return nullaryStringMethod(name, x, strings.TrimSpace), true
		}
	case *List:
		switch name {
		case "push":
			return &Builtin{Name: "list.push", Fn: func(args []Value) (Value, error) {
				if err := wantArgs("push", args, 1); err != nil {
					return nil, err
				}
				if err := checkNoProxy("push", args); err != nil {
					return nil, err
				}
				x.Items = append(x.Items, args[0])
				return nil, nil
			}}, true
		case "pop":
			return &Builtin{Name: "list.pop", Fn: func(args []Value) (Value, error) {
				if err := checkNoProxy("pop", args); err != nil {
					return nil, err
				}
				if len(x.Items) == 0 {
					return nil, raisef(IndexErrorClass, "pop from empty list")
				}
				idx := int64(len(x.Items) - 1)
				if len(args) == 1 {
					n, ok := args[0].(int64)
					if !ok {
						return nil, raisef(TypeErrorClass, "pop index must be int")
					}
					idx = n
				}
				if idx < 0 || idx >= int64(len(x.Items)) {
					return nil, raisef(IndexErrorClass, "pop index out of range")
				}
				v := x.Items[idx]
				x.Items = append(x.Items[:idx], x.Items[idx+1:]...)
				return v, nil
			}}, true
		}
	case *Dict:
		switch name {
		case "keys":
			return &Builtin{Name: "dict.keys", Fn: func(args []Value) (Value, error) {
				return &List{Items: x.Keys()}, nil
			}}, true
		case "get":
			return &Builtin{Name: "dict.get", Fn: func(args []Value) (Value, error) {
				if err := checkNoProxy("get", args); err != nil {
					return nil, err
				}
				if len(args) < 1 || len(args) > 2 {
					return nil, raisef(TypeErrorClass, "get expects 1 or 2 arguments")
				}
				if v, ok := x.Get(args[0]); ok {
					return v, nil
				}
				if len(args) == 2 {
					return args[1], nil
				}
				return nil, nil
			}}, true
		}
	case *Exception:
		switch name {
		case "message":
			return x.Msg, true
		case "kind":
			return x.Kind, true
		}
	}
	return nil, false
}

func stringMethod(name, recv string, fn func(s, arg string) Value) *Builtin {
	return &Builtin{Name: "str." + name, Fn: func(args []Value) (Value, error) {
		if err := wantArgs(name, args, 1); err != nil {
			return nil, err
		}
		if err := checkNoProxy(name, args); err != nil {
			return nil, err
		}
		arg, ok := args[0].(string)
		if !ok {
			return nil, raisef(TypeErrorClass, "%s expects str, got %s", name, TypeName(args[0]))
		}
		return fn(recv, arg), nil
	}}
}

func nullaryStringMethod(name, recv string, fn func(string) string) *Builtin {
	return &Builtin{Name: "str." + name, Fn: func(args []Value) (Value, error) {
		if err := wantArgs(name, args, 0); err != nil {
			return nil, err
		}
		return fn(recv), nil
	}}
}
