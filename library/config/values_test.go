package config

import (
	"testing"

	gconfig "github.com/Laisky/go-config/v2"
	"github.com/stretchr/testify/require"
)

func TestValueHelpers(t *testing.T) {
	gconfig.S.Set("test.values.int_str", " 42 ")
	gconfig.S.Set("test.values.int", 7)
	gconfig.S.Set("test.values.bad_int", "seven")
	gconfig.S.Set("test.values.bool_str", "Yes")
	gconfig.S.Set("test.values.bool_bad", "maybe")
	gconfig.S.Set("test.values.str", "  value ")
	gconfig.S.Set("test.values.blank", "   ")

	require.Equal(t, 42, Int("test.values.int_str", 1))
	require.Equal(t, 7, Int("test.values.int", 1))
	require.Equal(t, 1, Int("test.values.bad_int", 1))
	require.EqualValues(t, 99, Int64("test.values.missing", 99))

	require.True(t, Bool("test.values.bool_str", false))
	require.True(t, Bool("test.values.bool_bad", true))
	require.False(t, Bool("test.values.missing", false))

	require.Equal(t, "value", String("test.values.str", "def"))
	require.Equal(t, "def", String("test.values.blank", "def"))
	require.Equal(t, "def", String("test.values.missing", "def"))
}
