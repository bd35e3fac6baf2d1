// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package tablerpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistry(t *testing.T) {
	r := newRegistry[int]()
	r.set("b", 2)
	r.set("a", 1)
	r.set("c", 3)
	r.set("a", 10)

	v, ok := r.get("a")
	assert.True(t, ok)
	assert.Equal(t, 10, v)
	assert.Equal(t, []string{"a", "b", "c"}, r.names())

	removed := r.popWhere(func(_ string, v int) bool { return v > 2 })
	assert.Equal(t, map[string]int{"a": 10, "c": 3}, removed)
	assert.Equal(t, 1, r.len())

	v, ok = r.pop("b")
	assert.True(t, ok)
	assert.Equal(t, 2, v)
	_, ok = r.pop("b")
	assert.False(t, ok)
}
