package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGoldenFixturesValidateAgainstSchema(t *testing.T) {
	for frameType, raw := range Fixtures {
		frameType, raw := frameType, raw
		t.Run(frameType, func(t *testing.T) {
			var instance map[string]any
			require.NoError(t, json.Unmarshal([]byte(raw), &instance))
			require.NoError(t, Validate(frameType, instance))
		})
	}
}

func TestPeekType(t *testing.T) {
	typ, err := PeekType([]byte(Fixtures[TypeAuth]))
	require.NoError(t, err)
	require.Equal(t, TypeAuth, typ)

	_, err = PeekType([]byte(`{"secret":"x"}`))
	require.Error(t, err)

	_, err = PeekType([]byte(`not json`))
	require.Error(t, err)
}

func TestLevelHierarchy(t *testing.T) {
	require.Equal(t, LevelErrors, MapLogLevel("error"))
	require.Equal(t, LevelWarn, MapLogLevel("warn"))
	require.Equal(t, LevelTrace, MapLogLevel("debug"))
	require.Equal(t, LevelInfo, MapLogLevel("info"))
	require.Equal(t, LevelInfo, MapLogLevel("log"))
	require.Equal(t, LevelInfo, MapLogLevel("anything-else"))

	// default consumer (no subscribe) => errors only
	require.Equal(t, 0, HighestSubscribed(nil))
	require.True(t, LevelPasses(LevelErrors, HighestSubscribed(nil)))
	require.False(t, LevelPasses(LevelWarn, HighestSubscribed(nil)))

	h := HighestSubscribed([]string{"warn", "INFO"})
	require.True(t, LevelPasses(LevelErrors, h))
	require.True(t, LevelPasses(LevelWarn, h))
	require.True(t, LevelPasses(LevelInfo, h))
	require.False(t, LevelPasses(LevelTrace, h))
}

func TestRedactionAndTruncation(t *testing.T) {
	args := map[string]interface{}{
		"userToken":    "abc123",
		"apiSecret":    "shh",
		"Password":     "hunter2",
		"safe":         "ok",
		"nested":       map[string]interface{}{"token": "still-here"},
	}
	redacted := RedactShallow(args)
	require.Equal(t, "[redacted]", redacted["userToken"])
	require.Equal(t, "[redacted]", redacted["apiSecret"])
	require.Equal(t, "[redacted]", redacted["Password"])
	require.Equal(t, "ok", redacted["safe"])
	nested := redacted["nested"].(map[string]interface{})
	require.Equal(t, "still-here", nested["token"])

	long := make([]rune, 4010)
	for i := range long {
		long[i] = 'a'
	}
	out := TruncateMessage(string(long))
	require.Equal(t, 4000+1+len(TruncationMarker), len([]rune(out)))
	require.Contains(t, out, "…[truncated]")

	short := "short message"
	require.Equal(t, short, TruncateMessage(short))
}
