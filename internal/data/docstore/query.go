package docstore

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
)

// Query is a document filter. Keys are dotted field paths or the logical
// operators $and and $or. A plain value means equality; an object whose
// keys start with "$" applies comparison operators.
type Query map[string]interface{}

// Match reports whether doc satisfies q. An empty query matches everything.
func Match(doc map[string]interface{}, q Query) (bool, error) {
	for key, cond := range q {
		ok, err := matchKey(doc, key, cond)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func matchKey(doc map[string]interface{}, key string, cond interface{}) (bool, error) {
	switch key {
	case "$and", "$or":
		clauses, ok := cond.([]interface{})
		if !ok {
			return false, fmt.Errorf("%s expects an array of queries", key)
		}
		for _, clause := range clauses {
			sub, ok := asMap(clause)
			if !ok {
				return false, fmt.Errorf("%s clauses must be objects", key)
			}
			matched, err := Match(doc, sub)
			if err != nil {
				return false, err
			}
			if key == "$or" && matched {
				return true, nil
			}
			if key == "$and" && !matched {
				return false, nil
			}
		}
		return key == "$and", nil
	}

	value, present := Lookup(doc, key)

	ops, ok := asMap(cond)
	if !ok || !isOperatorObject(ops) {
		return present && equalValues(value, cond), nil
	}

	for op, arg := range ops {
		matched, err := applyOperator(op, value, present, arg)
		if err != nil || !matched {
			return false, err
		}
	}
	return true, nil
}

func isOperatorObject(m map[string]interface{}) bool {
	if len(m) == 0 {
		return false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return false
		}
	}
	return true
}

func applyOperator(op string, value interface{}, present bool, arg interface{}) (bool, error) {
	switch op {
	case "$eq":
		return present && equalValues(value, arg), nil
	case "$ne":
		return !present || !equalValues(value, arg), nil
	case "$gt", "$gte", "$lt", "$lte":
		if !present {
			return false, nil
		}
		c, ok := compareOrdered(value, arg)
		if !ok {
			return false, nil
		}
		switch op {
		case "$gt":
			return c > 0, nil
		case "$gte":
			return c >= 0, nil
		case "$lt":
			return c < 0, nil
		default:
			return c <= 0, nil
		}
	case "$in", "$nin":
		list, ok := arg.([]interface{})
		if !ok {
			return false, fmt.Errorf("%s expects an array", op)
		}
		found := false
		if present {
			for _, candidate := range list {
				if equalValues(value, candidate) {
					found = true
					break
				}
			}
		}
		if op == "$in" {
			return found, nil
		}
		return !found, nil
	case "$contains":
		if !present {
			return false, nil
		}
		return contains(value, arg), nil
	case "$exists":
		want, ok := arg.(bool)
		if !ok {
			return false, fmt.Errorf("$exists expects a boolean")
		}
		return present == want, nil
	case "$regex":
		s, ok := value.(string)
		if !present || !ok {
			return false, nil
		}
		re, err := compileRegex(arg)
		if err != nil {
			return false, err
		}
		return re.MatchString(s), nil
	}
	return false, fmt.Errorf("unknown operator %s", op)
}

func contains(value, arg interface{}) bool {
	switch v := value.(type) {
	case string:
		if needles, ok := arg.([]interface{}); ok {
			for _, n := range needles {
				s, ok := n.(string)
				if !ok || !strings.Contains(v, s) {
					return false
				}
			}
			return true
		}
		s, ok := arg.(string)
		return ok && strings.Contains(v, s)
	case []interface{}:
		needles, ok := arg.([]interface{})
		if !ok {
			needles = []interface{}{arg}
		}
		for _, n := range needles {
			found := false
			for _, item := range v {
				if equalValues(item, n) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	}
	return false
}

func compileRegex(arg interface{}) (*regexp.Regexp, error) {
	switch a := arg.(type) {
	case string:
		return regexp.Compile(a)
	case []interface{}:
		if len(a) == 0 {
			break
		}
		pattern, ok := a[0].(string)
		if !ok {
			break
		}
		if len(a) > 1 {
			if flags, ok := a[1].(string); ok && flags != "" {
				// Only the flags Go's regexp understands are honored.
				var goFlags strings.Builder
				for _, f := range flags {
					if strings.ContainsRune("imsU", f) {
						goFlags.WriteRune(f)
					}
				}
				if goFlags.Len() > 0 {
					pattern = "(?" + goFlags.String() + ")" + pattern
				}
			}
		}
		return regexp.Compile(pattern)
	}
	return nil, fmt.Errorf("$regex expects a pattern or [pattern, flags]")
}

// Lookup resolves a dotted path inside doc. Numeric segments index arrays.
func Lookup(doc map[string]interface{}, path string) (interface{}, bool) {
	var current interface{} = doc
	for _, part := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]interface{}:
			v, ok := node[part]
			if !ok {
				return nil, false
			}
			current = v
		case []interface{}:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			current = node[i]
		default:
			return nil, false
		}
	}
	return current, true
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case Query:
		return m, true
	}
	return nil, false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func equalValues(a, b interface{}) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	return reflect.DeepEqual(a, b)
}

// compareOrdered compares two numbers or two strings.
func compareOrdered(a, b interface{}) (int, bool) {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	}
	sa, ok := a.(string)
	if !ok {
		return 0, false
	}
	sb, ok := b.(string)
	if !ok {
		return 0, false
	}
	return strings.Compare(sa, sb), true
}

// sortRank orders values of different kinds: missing and null first, then
// booleans, numbers, strings, and everything else.
func sortRank(v interface{}, present bool) int {
	if !present || v == nil {
		return 0
	}
	switch v.(type) {
	case bool:
		return 1
	case string:
		return 3
	}
	if _, ok := toFloat(v); ok {
		return 2
	}
	return 4
}

// compareForSort totally orders two looked-up values for sorting.
func compareForSort(a interface{}, aok bool, b interface{}, bok bool) int {
	ra, rb := sortRank(a, aok), sortRank(b, bok)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch ra {
	case 1:
		ba, bb := a.(bool), b.(bool)
		switch {
		case ba == bb:
			return 0
		case !ba:
			return -1
		}
		return 1
	case 2, 3:
		c, _ := compareOrdered(a, b)
		return c
	case 4:
		return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
	}
	return 0
}
