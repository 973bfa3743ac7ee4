package engine

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strconv"

	"github.com/roach88/allotment/internal/fault"
	"github.com/roach88/allotment/internal/ir"
)

// Argument keys.
const (
	ArgAccount     = "account"
	ArgTo          = "to"
	ArgAmount      = "amount"
	ArgBeneficiary = "beneficiary"
	ArgReleaseTime = "release_time"
	ArgScheduleID  = "schedule_id"
)

func argAccount(args ir.Object, key string) (ir.Account, error) {
	s, err := argString(args, key)
	if err != nil {
		return "", err
	}
	a, err := ir.ParseAccount(s)
	if err != nil {
		return "", fault.InvalidArgument("argument %q must not be empty", key)
	}
	return a, nil
}

func argString(args ir.Object, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fault.InvalidArgument("missing argument %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fault.InvalidArgument("argument %q must be a string", key)
	}
	return s, nil
}

// argAmount reads a base-unit amount. Accepts a decimal string or an integer.
func argAmount(args ir.Object, key string) (*big.Int, error) {
	v, ok := args[key]
	if !ok {
		return nil, fault.InvalidArgument("missing argument %q", key)
	}
	var s string
	switch val := v.(type) {
	case string:
		s = val
	case json.Number:
		s = val.String()
	case int:
		s = strconv.Itoa(val)
	case int64:
		s = strconv.FormatInt(val, 10)
	default:
		return nil, fault.InvalidArgument("argument %q must be a base-unit integer", key)
	}
	amount, err := ir.ParseBaseUnits(s)
	if err != nil {
		return nil, fault.InvalidArgument("argument %q must be a non-negative base-unit integer", key).With("value", s)
	}
	return amount, nil
}

// argTime reads unix seconds. Accepts an integer, a numeric string or an
// RFC 3339 timestamp.
func argTime(args ir.Object, key string) (int64, error) {
	v, ok := args[key]
	if !ok {
		return 0, fault.InvalidArgument("missing argument %q", key)
	}
	switch val := v.(type) {
	case int:
		return int64(val), nil
	case int64:
		return val, nil
	case json.Number:
		n, err := val.Int64()
		if err != nil {
			return 0, fault.InvalidArgument("argument %q must be unix seconds", key)
		}
		return n, nil
	case float64:
		if val != math.Trunc(val) {
			return 0, fault.InvalidArgument("argument %q must be whole unix seconds", key)
		}
		return int64(val), nil
	case string:
		n, err := ir.ParseTime(val)
		if err != nil {
			return 0, fault.InvalidArgument("argument %q must be unix seconds or RFC 3339", key)
		}
		return n, nil
	default:
		return 0, fault.InvalidArgument("argument %q must be unix seconds", key)
	}
}

// sanitizeArgs converts arbitrary decoded JSON into an object that canonical
// JSON accepts, so malformed requests can still be journaled. Floats become
// integers when whole and strings otherwise; nulls are dropped.
func sanitizeArgs(args ir.Object) ir.Object {
	out := make(ir.Object, len(args))
	for k, v := range args {
		if s, ok := sanitizeValue(v); ok {
			out[k] = s
		}
	}
	return out
}

func sanitizeValue(v any) (any, bool) {
	switch val := v.(type) {
	case nil:
		return nil, false
	case string, bool, int, int64:
		return val, true
	case json.Number:
		if _, err := val.Int64(); err == nil {
			return val, true
		}
		return val.String(), true
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1<<53 {
			return int64(val), true
		}
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case []any:
		out := make([]any, 0, len(val))
		for _, elem := range val {
			if s, ok := sanitizeValue(elem); ok {
				out = append(out, s)
			}
		}
		return out, true
	case map[string]any:
		return map[string]any(sanitizeArgs(val)), true
	case ir.Object:
		return map[string]any(sanitizeArgs(val)), true
	default:
		return fmt.Sprint(val), true
	}
}
