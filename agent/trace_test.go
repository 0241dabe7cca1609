package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatArgs(t *testing.T) {
	tests := []struct {
		name string
		args map[string]interface{}
		want string
	}{
		{"empty", nil, "{}"},
		{"single string", map[string]interface{}{"directory": "."}, "{'directory': '.'}"},
		{"sorted keys", map[string]interface{}{"path": "a.txt", "content": "x"}, "{'content': 'x', 'path': 'a.txt'}"},
		{"integral number", map[string]interface{}{"limit": float64(10)}, "{'limit': 10}"},
		{"fraction", map[string]interface{}{"ratio": 0.25}, "{'ratio': 0.25}"},
		{"booleans and null", map[string]interface{}{"a": true, "b": false, "c": nil}, "{'a': True, 'b': False, 'c': None}"},
		{"nested", map[string]interface{}{"opts": map[string]interface{}{"tags": []interface{}{"x", float64(2)}}}, "{'opts': {'tags': ['x', 2]}}"},
		{"single quote inside", map[string]interface{}{"q": "it's"}, `{'q': "it's"}`},
		{"both quotes", map[string]interface{}{"q": `it's "x"`}, `{'q': 'it\'s "x"'}`},
		{"newline escaped", map[string]interface{}{"code": "a\nb"}, `{'code': 'a\nb'}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatArgs(tt.args))
		})
	}
}
