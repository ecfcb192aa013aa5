package bitstream

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/haishinkit/haishin/internal/logger"
	"github.com/haishinkit/haishin/internal/test"
)

func packLengthPrefixed(units [][]byte) []byte {
	var out []byte
	for _, u := range units {
		out = binary.BigEndian.AppendUint32(out, uint32(len(u)))
		out = append(out, u...)
	}
	return out
}

func TestToStreamForm(t *testing.T) {
	out := ToStreamForm([]byte{0x00, 0x00, 0x00, 0x02, 0xaa, 0xbb}, nil)
	require.Equal(t, []byte{0x00, 0x00, 0x00, 0x01, 0xaa, 0xbb}, out)
}

func TestToStreamFormMalformed(t *testing.T) {
	var logged []string

	l := test.Logger(func(_ logger.Level, format string, _ ...interface{}) {
		logged = append(logged, format)
	})

	buf := []byte{
		0x00, 0x00, 0x00, 0x01, 0x65,
		0x00, 0x00, 0x10, 0x00, // declared length exceeds the remaining bytes
		0x00, 0x00, 0x00, 0x01, 0x41,
	}

	out := ToStreamForm(buf, l)
	require.Equal(t, []byte{
		0x00, 0x00, 0x00, 0x01, 0x65,
		0x00, 0x00, 0x00, 0x01, 0x41,
	}, out)
	require.Len(t, logged, 1)
}

func TestToStreamFormTrailingBytes(t *testing.T) {
	var logged []string

	l := test.Logger(func(_ logger.Level, format string, args ...interface{}) {
		logged = append(logged, fmt.Sprintf(format, args...))
	})

	out := ToStreamForm([]byte{0x00, 0x00, 0x00, 0x01, 0x65, 0x00, 0x00}, l)
	require.Equal(t, []byte{0x00, 0x00, 0x00, 0x01, 0x65}, out)
	require.Equal(t, []string{"skipping 2 trailing bytes"}, logged)
}

func TestRoundTrip(t *testing.T) {
	for _, ca := range []struct {
		name  string
		units [][]byte
	}{
		{
			"single",
			[][]byte{{0x65, 0x88, 0x84}},
		},
		{
			"sps pps idr",
			[][]byte{
				test.FormatH264.SPS,
				test.FormatH264.PPS,
				{0x65, 0x88, 0x84, 0x00, 0x21, 0xff},
			},
		},
		{
			"trailing zero",
			[][]byte{{0x41, 0x9a, 0x00}, {0x41, 0x9b}},
		},
		{
			"large",
			[][]byte{append([]byte{0x65}, bytes.Repeat([]byte{0x5a}, 70000)...), {0x41, 0x01}},
		},
	} {
		t.Run(ca.name, func(t *testing.T) {
			orig := packLengthPrefixed(ca.units)

			stream := ToStreamForm(append([]byte(nil), orig...), nil)
			require.Equal(t, len(orig), len(stream))

			back := ToLengthPrefixedForm(stream)
			require.Equal(t, orig, back)
		})
	}
}

func TestToLengthPrefixedFormNoStartCodes(t *testing.T) {
	buf := []byte{0x01, 0x02, 0x03, 0x04, 0x05}
	out := ToLengthPrefixedForm(buf)
	require.Equal(t, []byte{0x01, 0x02, 0x03, 0x04, 0x05}, out)
}

func TestToLengthPrefixedFormThreeByteCodes(t *testing.T) {
	buf := []byte{
		0x00, 0x00, 0x00, 0x01, 0x67, 0x42,
		0x00, 0x00, 0x01, 0x68, 0xce, 0x3c,
	}
	out := ToLengthPrefixedForm(buf)
	require.Equal(t, []byte{
		0x00, 0x00, 0x00, 0x02, 0x67, 0x42,
		0x00, 0x00, 0x03, 0x68, 0xce, 0x3c,
	}, out)
}

func TestToLengthPrefixedFormLeadingThreeByteCode(t *testing.T) {
	buf := []byte{0x00, 0x00, 0x01, 0x65, 0x88}
	out := ToLengthPrefixedForm(buf)
	require.Equal(t, []byte{0x00, 0x00, 0x00, 0x02, 0x65, 0x88}, out)
}

// adjacent start codes produce a zero-length run, which is kept as-is.
func TestToLengthPrefixedFormZeroLengthRun(t *testing.T) {
	buf := []byte{
		0x00, 0x00, 0x00, 0x01,
		0x00, 0x00, 0x00, 0x01, 0x65, 0x88,
	}
	out := ToLengthPrefixedForm(buf)
	require.Equal(t, []byte{
		0x00, 0x00, 0x00, 0x01,
		0x00, 0x00, 0x00, 0x02, 0x65, 0x88,
	}, out)
}

// an interior zero-length run is absorbed by the preceding record.
func TestToLengthPrefixedFormInteriorZeroLengthRun(t *testing.T) {
	buf := []byte{
		0x00, 0x00, 0x00, 0x01, 0xaa,
		0x00, 0x00, 0x00, 0x01,
		0x00, 0x00, 0x00, 0x01, 0xbb,
	}
	out := ToLengthPrefixedForm(buf)
	require.Equal(t, []byte{
		0x00, 0x00, 0x00, 0x05, 0xaa,
		0x00, 0x00, 0x00, 0x01,
		0x00, 0x00, 0x00, 0x01, 0xbb,
	}, out)

	back := ToStreamForm(append([]byte(nil), out...), nil)
	require.Equal(t, []byte{
		0x00, 0x00, 0x00, 0x01, 0xaa, 0x00, 0x00, 0x00, 0x01,
		0x00, 0x00, 0x00, 0x01, 0xbb,
	}, back)
}

func TestAccessUnit(t *testing.T) {
	au := AccessUnit{
		Form: FormLengthPrefixed,
		Data: []byte{0x00, 0x00, 0x00, 0x02, 0xaa, 0xbb},
	}

	sf := au.ToStreamForm(nil)
	require.Equal(t, FormStartCode, sf.Form)
	require.Equal(t, []byte{0x00, 0x00, 0x00, 0x01, 0xaa, 0xbb}, sf.Data)
	require.Equal(t, sf, sf.ToStreamForm(nil))

	lp := sf.ToLengthPrefixedForm()
	require.Equal(t, FormLengthPrefixed, lp.Form)
	require.Equal(t, []byte{0x00, 0x00, 0x00, 0x02, 0xaa, 0xbb}, lp.Data)
}
