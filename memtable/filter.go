// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package memtable

import (
	"fmt"
	"slices"
)

// Filter operators.
const (
	OpEq        = "=="
	OpNe        = "!="
	OpGt        = ">"
	OpGe        = ">="
	OpLt        = "<"
	OpLe        = "<="
	OpIsNull    = "is null"
	OpIsNotNull = "is not null"
	OpIn        = "in"
	OpNotIn     = "not in"
)

// filter is one [column, op, value] clause.
type filter struct {
	col    int
	name   string
	op     string
	value  any
	values []any // operands of in / not in
	raw    []any
}

func parseFilter(s schema, raw any) (filter, error) {
	clause, ok := raw.([]any)
	if !ok || len(clause) < 2 {
		return filter{}, fmt.Errorf("filter must be [column, op, value], got %v", raw)
	}
	name, ok1 := clause[0].(string)
	op, ok2 := clause[1].(string)
	if !ok1 || !ok2 {
		return filter{}, fmt.Errorf("filter must be [column, op, value], got %v", raw)
	}
	col := s.indexOf(name)
	if col < 0 {
		return filter{}, fmt.Errorf("filter column `%s` does not exist", name)
	}
	f := filter{col: col, name: name, op: op, raw: clause}

	switch op {
	case OpIsNull, OpIsNotNull:
		return f, nil
	case OpEq, OpNe, OpGt, OpGe, OpLt, OpLe:
		if len(clause) < 3 {
			return filter{}, fmt.Errorf("filter `%s %s` needs a value", name, op)
		}
		v, err := coerce(clause[2], s[col].Type)
		if err != nil {
			return filter{}, fmt.Errorf("filter `%s %s`: %w", name, op, err)
		}
		f.value = v
	case OpIn, OpNotIn:
		if len(clause) < 3 {
			return filter{}, fmt.Errorf("filter `%s %s` needs a list", name, op)
		}
		list, ok := clause[2].([]any)
		if !ok {
			return filter{}, fmt.Errorf("filter `%s %s` needs a list, got %T", name, op, clause[2])
		}
		for _, item := range list {
			v, err := coerce(item, s[col].Type)
			if err != nil {
				return filter{}, fmt.Errorf("filter `%s %s`: %w", name, op, err)
			}
			f.values = append(f.values, v)
		}
	default:
		return filter{}, fmt.Errorf("unknown filter operator %q", op)
	}
	return f, nil
}

func (f filter) match(row []any) bool {
	v := row[f.col]
	switch f.op {
	case OpIsNull:
		return v == nil
	case OpIsNotNull:
		return v != nil
	case OpIn, OpNotIn:
		found := v != nil && slices.ContainsFunc(f.values, func(x any) bool {
			return compareValues(v, x) == 0
		})
		return found == (f.op == OpIn)
	}

	if v == nil || f.value == nil {
		return false
	}
	c := compareValues(v, f.value)
	switch f.op {
	case OpEq:
		return c == 0
	case OpNe:
		return c != 0
	case OpGt:
		return c > 0
	case OpGe:
		return c >= 0
	case OpLt:
		return c < 0
	case OpLe:
		return c <= 0
	}
	return false
}

// sortKey is one [column, direction] clause.
type sortKey struct {
	col  int
	desc bool
	raw  []any
}

func parseSort(s schema, raw any) (sortKey, error) {
	clause, ok := raw.([]any)
	if !ok || len(clause) == 0 {
		return sortKey{}, fmt.Errorf("sort must be [column, direction], got %v", raw)
	}
	name, ok := clause[0].(string)
	if !ok {
		return sortKey{}, fmt.Errorf("sort must be [column, direction], got %v", raw)
	}
	col := s.indexOf(name)
	if col < 0 {
		return sortKey{}, fmt.Errorf("sort column `%s` does not exist", name)
	}
	k := sortKey{col: col, raw: clause}
	if len(clause) > 1 {
		switch clause[1] {
		case "asc", "none":
		case "desc":
			k.desc = true
		default:
			return sortKey{}, fmt.Errorf("unknown sort direction %v", clause[1])
		}
	}
	return k, nil
}

func compareRows(keys []sortKey, a, b []any) int {
	for _, k := range keys {
		c := compareValues(a[k.col], b[k.col])
		if k.desc {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return 0
}
