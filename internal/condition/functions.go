package condition

import (
	"fmt"
	"strings"

	"github.com/Knetic/govaluate"
)

var functions = map[string]govaluate.ExpressionFunction{
	"contains": func(args ...interface{}) (interface{}, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("contains: want 2 arguments, got %d", len(args))
		}
		s, ok := args[0].(string)
		if !ok {
			// Null attributes never contain anything.
			return false, nil
		}
		return strings.Contains(s, fmt.Sprint(args[1])), nil
	},
	"lower": func(args ...interface{}) (interface{}, error) {
		v, err := single("lower", args)
		if err != nil {
			return nil, err
		}
		s, _ := v.(string)
		return strings.ToLower(s), nil
	},
	"isnull": func(args ...interface{}) (interface{}, error) {
		v, err := single("isnull", args)
		if err != nil {
			return nil, err
		}
		return v == nil, nil
	},
}

// single unpacks a one-argument call. govaluate invokes a function with no
// arguments when its only argument evaluates to nil, so an empty list is a
// null attribute.
func single(name string, args []interface{}) (interface{}, error) {
	switch len(args) {
	case 0:
		return nil, nil
	case 1:
		return args[0], nil
	default:
		return nil, fmt.Errorf("%s: want 1 argument, got %d", name, len(args))
	}
}
