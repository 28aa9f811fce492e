package maps

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type target struct {
	Script  string `json:"script"`
	Retries int    `json:"retries"`
}

func TestMap2Struct(t *testing.T) {
	var out target
	err := Map2Struct(map[string]any{"script": "1==1", "retries": "3"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "1==1", out.Script)
	assert.Equal(t, 3, out.Retries)
}

func TestCopy(t *testing.T) {
	dst := map[string]any{"a": 1}
	Copy(dst, map[string]any{"a": 2, "b": 3})
	assert.Equal(t, map[string]any{"a": 2, "b": 3}, dst)
}
