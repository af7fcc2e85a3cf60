// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseString_DefaultsWhenUnset(t *testing.T) {
	t.Setenv("REELGATE_TEST_STR", "")
	assert.Equal(t, "fallback", ParseString("REELGATE_TEST_STR_UNSET_XYZ", "fallback"))
}

func TestParseString_UsesEnvironmentValue(t *testing.T) {
	t.Setenv("REELGATE_TEST_STR", "hello")
	assert.Equal(t, "hello", ParseString("REELGATE_TEST_STR", "fallback"))
}

func TestParseString_EmptyEnvFallsBackToDefault(t *testing.T) {
	t.Setenv("REELGATE_TEST_STR", "")
	assert.Equal(t, "fallback", ParseString("REELGATE_TEST_STR", "fallback"))
}

func TestParseInt_ValidAndInvalid(t *testing.T) {
	t.Setenv("REELGATE_TEST_INT", "42")
	assert.Equal(t, 42, ParseInt("REELGATE_TEST_INT", 7))

	t.Setenv("REELGATE_TEST_INT", "not-a-number")
	assert.Equal(t, 7, ParseInt("REELGATE_TEST_INT", 7))
}

func TestParseInt64(t *testing.T) {
	t.Setenv("REELGATE_TEST_INT64", "10737418240")
	assert.EqualValues(t, 10737418240, ParseInt64("REELGATE_TEST_INT64", 0))
}

func TestParseDuration_ValidAndInvalid(t *testing.T) {
	t.Setenv("REELGATE_TEST_DUR", "30s")
	assert.Equal(t, 30*time.Second, ParseDuration("REELGATE_TEST_DUR", time.Minute))

	t.Setenv("REELGATE_TEST_DUR", "garbage")
	assert.Equal(t, time.Minute, ParseDuration("REELGATE_TEST_DUR", time.Minute))
}

func TestParseBool_Variants(t *testing.T) {
	cases := map[string]bool{"true": true, "1": true, "yes": true, "false": false, "0": false, "no": false}
	for raw, want := range cases {
		t.Setenv("REELGATE_TEST_BOOL", raw)
		assert.Equal(t, want, ParseBool("REELGATE_TEST_BOOL", !want), "raw=%s", raw)
	}

	t.Setenv("REELGATE_TEST_BOOL", "maybe")
	assert.True(t, ParseBool("REELGATE_TEST_BOOL", true))
}

func TestParseString_MasksSensitiveKeysInLogButStillReturnsValue(t *testing.T) {
	t.Setenv("REELGATE_TEST_SECRET_TOKEN", "super-secret")
	assert.Equal(t, "super-secret", ParseString("REELGATE_TEST_SECRET_TOKEN", ""))
}
