// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package memtable

import (
	"cmp"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/Query-farm/tablerpc/tablerpc"
)

// ColumnType is the type of a table column.
type ColumnType string

const (
	TypeInteger  ColumnType = "integer"
	TypeFloat    ColumnType = "float"
	TypeString   ColumnType = "string"
	TypeBoolean  ColumnType = "boolean"
	TypeDate     ColumnType = "date"
	TypeDatetime ColumnType = "datetime"
)

// ParseColumnType returns the ColumnType named s.
func ParseColumnType(s string) (ColumnType, bool) {
	switch t := ColumnType(s); t {
	case TypeInteger, TypeFloat, TypeString, TypeBoolean, TypeDate, TypeDatetime:
		return t, true
	}
	return "", false
}

// Field is one column of a schema.
type Field struct {
	Name string
	Type ColumnType
}

// schema is an ordered column list.
type schema []Field

func (s schema) indexOf(name string) int {
	for i, f := range s {
		if f.Name == name {
			return i
		}
	}
	return -1
}

func (s schema) names() []string {
	out := make([]string, len(s))
	for i, f := range s {
		out[i] = f.Name
	}
	return out
}

// typeMap returns the schema as column name to type name.
func (s schema) typeMap() map[string]string {
	out := make(map[string]string, len(s))
	for _, f := range s {
		out[f.Name] = string(f.Type)
	}
	return out
}

var dateLayouts = []string{"2006-01-02", "2006/01/02", "01/02/2006"}

var datetimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func parseDatetime(s string) (time.Time, bool) {
	for _, layout := range datetimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return tablerpc.FromTimestamp(tablerpc.ToTimestamp(t)), true
		}
	}
	return time.Time{}, false
}

// truncateDate drops the time of day in UTC.
func truncateDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// coerce converts an input value to the stored representation of typ:
// int64, float64, string, bool, or time.Time for dates and datetimes.
func coerce(v any, typ ColumnType) (any, error) {
	if v == nil {
		return nil, nil
	}
	if n, ok := v.(json.Number); ok {
		f, err := n.Float64()
		if err != nil {
			return nil, err
		}
		v = f
	}

	switch typ {
	case TypeInteger:
		switch x := v.(type) {
		case float64:
			if math.IsNaN(x) || math.IsInf(x, 0) {
				return nil, nil
			}
			return int64(x), nil
		case string:
			return strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		case bool:
			if x {
				return int64(1), nil
			}
			return int64(0), nil
		}
		return toInt64(v)

	case TypeFloat:
		if s, ok := v.(string); ok {
			return strconv.ParseFloat(strings.TrimSpace(s), 64)
		}
		return toFloat64(v)

	case TypeString:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return fmt.Sprint(v), nil

	case TypeBoolean:
		switch x := v.(type) {
		case bool:
			return x, nil
		case string:
			return strconv.ParseBool(strings.TrimSpace(x))
		case float64:
			return x != 0, nil
		}
		return nil, fmt.Errorf("cannot convert %T to boolean", v)

	case TypeDate, TypeDatetime:
		t, err := toTime(v, typ)
		if err != nil {
			return nil, err
		}
		if typ == TypeDate {
			return truncateDate(t), nil
		}
		return t, nil
	}
	return nil, fmt.Errorf("unknown column type %q", typ)
}

func toTime(v any, typ ColumnType) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return tablerpc.FromTimestamp(tablerpc.ToTimestamp(x)), nil
	case string:
		if t, ok := parseDatetime(x); ok {
			return t, nil
		}
		if t, ok := parseDate(x); ok {
			return t, nil
		}
		return time.Time{}, fmt.Errorf("cannot parse %q as %s", x, typ)
	}
	ms, err := toInt64(v)
	if err != nil {
		f, ferr := toFloat64(v)
		if ferr != nil {
			return time.Time{}, fmt.Errorf("cannot convert %T to %s", v, typ)
		}
		ms = int64(f)
	}
	return tablerpc.FromTimestamp(ms), nil
}

func toInt64(v any) (int64, error) {
	switch val := v.(type) {
	case int64:
		return val, nil
	case int:
		return int64(val), nil
	case int32:
		return int64(val), nil
	case int16:
		return int64(val), nil
	case int8:
		return int64(val), nil
	case uint32:
		return int64(val), nil
	case uint16:
		return int64(val), nil
	case uint8:
		return int64(val), nil
	default:
		return 0, fmt.Errorf("cannot convert %T to integer", v)
	}
}

func toFloat64(v any) (float64, error) {
	switch val := v.(type) {
	case float64:
		return val, nil
	case float32:
		return float64(val), nil
	case int:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case int32:
		return float64(val), nil
	default:
		return 0, fmt.Errorf("cannot convert %T to float", v)
	}
}

// inferType picks a column type from sample input values. Numbers are
// integers unless some value has a fraction; strings that all parse as
// dates or datetimes get those types.
func inferType(values []any) ColumnType {
	var typ ColumnType
	allDates, allDatetimes, sawString := true, true, false
	for _, v := range values {
		switch x := v.(type) {
		case nil:
			continue
		case bool:
			if typ == "" {
				typ = TypeBoolean
			}
		case float64:
			if typ == "" || typ == TypeInteger {
				typ = TypeInteger
				if x != math.Trunc(x) {
					typ = TypeFloat
				}
			}
		case float32:
			if typ == "" || typ == TypeInteger {
				typ = TypeFloat
			}
		case int, int8, int16, int32, int64, uint8, uint16, uint32:
			if typ == "" {
				typ = TypeInteger
			}
		case time.Time:
			if typ == "" {
				typ = TypeDatetime
			}
		case string:
			if typ == "" {
				typ = TypeString
			}
			sawString = true
			if _, ok := parseDate(x); !ok {
				allDates = false
			}
			if _, ok := parseDatetime(x); !ok {
				allDatetimes = false
			}
		default:
			if typ == "" {
				typ = TypeString
			}
		}
	}
	if typ == TypeString && sawString {
		switch {
		case allDates:
			return TypeDate
		case allDatetimes:
			return TypeDatetime
		}
	}
	if typ == "" {
		return TypeString
	}
	return typ
}

// compareValues orders two stored values of the same column. Nulls sort
// first.
func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	switch x := a.(type) {
	case int64:
		if y, ok := b.(int64); ok {
			return cmp.Compare(x, y)
		}
	case float64:
		if y, ok := b.(float64); ok {
			return cmp.Compare(x, y)
		}
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y)
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0
			case !x:
				return -1
			default:
				return 1
			}
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y)
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

// asInteger converts an option value to int64.
func asInteger(raw any) (int64, error) {
	v, err := coerce(raw, TypeInteger)
	if err != nil {
		return 0, err
	}
	n, ok := v.(int64)
	if !ok {
		return 0, fmt.Errorf("expected an integer, got %v", raw)
	}
	return n, nil
}
