package conf

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/haishinkit/haishin/internal/logger"
)

func TestLogLevel(t *testing.T) {
	var l LogLevel
	err := json.Unmarshal([]byte(`"WARN"`), &l)
	require.NoError(t, err)
	require.Equal(t, LogLevel(logger.Warn), l)

	enc, err := json.Marshal(l)
	require.NoError(t, err)
	require.Equal(t, `"warn"`, string(enc))

	_, err = json.Marshal(LogLevel(0))
	require.EqualError(t, err, "json: error calling MarshalJSON for type conf.LogLevel: invalid log level: 0")
}
