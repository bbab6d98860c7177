package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{"", true, true},
		{"yes", false, true},
		{"ON", false, true},
		{"0", true, false},
		{"off", true, false},
		{"maybe", true, true},
	}
	for _, tt := range tests {
		t.Setenv("STUDYPIPE_TEST_BOOL", tt.value)
		assert.Equal(t, tt.want, ParseBoolEnv("STUDYPIPE_TEST_BOOL", tt.def), "value %q", tt.value)
	}
}

func TestParseIntEnv(t *testing.T) {
	t.Setenv("STUDYPIPE_TEST_INT", "")
	assert.Equal(t, 20, ParseIntEnv("STUDYPIPE_TEST_INT", 20))

	t.Setenv("STUDYPIPE_TEST_INT", " 30 ")
	assert.Equal(t, 30, ParseIntEnv("STUDYPIPE_TEST_INT", 20))

	t.Setenv("STUDYPIPE_TEST_INT", "-1")
	assert.Equal(t, 20, ParseIntEnv("STUDYPIPE_TEST_INT", 20))

	t.Setenv("STUDYPIPE_TEST_INT", "venti")
	assert.Equal(t, 20, ParseIntEnv("STUDYPIPE_TEST_INT", 20))
}

func TestGetEnv(t *testing.T) {
	t.Setenv("STUDYPIPE_TEST_STR", "  ")
	assert.Equal(t, "39", GetEnv("STUDYPIPE_TEST_STR", "39"))

	t.Setenv("STUDYPIPE_TEST_STR", "41")
	assert.Equal(t, "41", GetEnv("STUDYPIPE_TEST_STR", "39"))
}
