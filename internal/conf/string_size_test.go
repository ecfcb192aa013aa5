package conf

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStringSize(t *testing.T) {
	var s StringSize
	err := s.UnmarshalJSON([]byte(`"10M"`))
	require.NoError(t, err)
	require.Equal(t, StringSize(10*1024*1024), s)

	enc, err := s.MarshalJSON()
	require.NoError(t, err)
	require.Equal(t, `"10M"`, string(enc))

	err = s.UnmarshalEnv("", "0")
	require.NoError(t, err)
	require.Equal(t, StringSize(0), s)

	err = s.UnmarshalEnv("", "ten")
	require.Error(t, err)
}

func TestStringSizeZero(t *testing.T) {
	enc, err := StringSize(0).MarshalJSON()
	require.NoError(t, err)

	var s StringSize = 5
	err = s.UnmarshalJSON(enc)
	require.NoError(t, err)
	require.Equal(t, StringSize(0), s)
}

func TestStringSizeNumber(t *testing.T) {
	var s StringSize
	err := s.UnmarshalJSON([]byte(`1048576`))
	require.NoError(t, err)
	require.Equal(t, StringSize(1024*1024), s)
	require.Equal(t, "1M", s.String())

	err = s.UnmarshalJSON([]byte(`-1`))
	require.EqualError(t, err, "invalid size: -1")
}
