package conf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDuration(t *testing.T) {
	for _, ca := range []struct {
		name string
		dec  Duration
		enc  string
	}{
		{"zero", 0, `"0s"`},
		{"standard", Duration(2 * time.Second), `"2s"`},
		{"fractional", Duration(1500 * time.Millisecond), `"1.5s"`},
		{"days", Duration(36 * time.Hour), `"1d12h0m0s"`},
		{"days even", Duration(7 * 24 * time.Hour), `"7d"`},
		{"negative", Duration(-36 * time.Hour), `"-1d12h0m0s"`},
	} {
		t.Run(ca.name, func(t *testing.T) {
			enc, err := ca.dec.MarshalJSON()
			require.NoError(t, err)
			require.Equal(t, ca.enc, string(enc))

			var dec Duration
			err = dec.UnmarshalJSON(enc)
			require.NoError(t, err)
			require.Equal(t, ca.dec, dec)
		})
	}
}

func TestDurationSeconds(t *testing.T) {
	var d Duration
	err := d.UnmarshalJSON([]byte(`2.5`))
	require.NoError(t, err)
	require.Equal(t, Duration(2500*time.Millisecond), d)

	err = d.UnmarshalEnv("", "4")
	require.NoError(t, err)
	require.Equal(t, Duration(4*time.Second), d)
}

func TestDurationErrors(t *testing.T) {
	var d Duration
	require.EqualError(t, d.UnmarshalEnv("", "2x"), "invalid duration '2x'")
	require.EqualError(t, d.UnmarshalEnv("", "xd2h"), "invalid duration 'xd2h'")
	require.EqualError(t, d.UnmarshalJSON([]byte(`true`)), "invalid duration: true")
}
