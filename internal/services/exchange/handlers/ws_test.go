package handlers

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchIDOf(t *testing.T) {
	testCases := []struct {
		name     string
		data     string
		expected string
	}{
		{name: "object", data: `{"matchId":"m1","message":"hi"}`, expected: "m1"},
		{name: "bare string", data: `"m2"`, expected: "m2"},
		{name: "empty object", data: `{}`, expected: ""},
		{name: "number", data: `42`, expected: ""},
		{name: "null", data: `null`, expected: ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, matchIDOf(json.RawMessage(tc.data)))
		})
	}
}
