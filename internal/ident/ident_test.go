package ident

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

var hexRe = regexp.MustCompile(`^[0-9a-f]+$`)

func TestNewLength(t *testing.T) {
	tests := []struct {
		name   string
		length int
		want   int
	}{
		{"default", 0, DefaultLength},
		{"negative falls back", -4, DefaultLength},
		{"even", 16, 16},
		{"odd", 7, 7},
		{"long", 64, 64},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := New(tt.length)
			assert.Len(t, id, tt.want)
			assert.Regexp(t, hexRe, id)
		})
	}
}

func TestNewDoesNotRepeat(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := New(DefaultLength)
		_, dup := seen[id]
		assert.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
}

func TestResolve(t *testing.T) {
	assert.Equal(t, "caller-id", Resolve("caller-id"))
	assert.Len(t, Resolve(""), DefaultLength)
}
