// Package bitstream converts H264 access units between length-prefixed and start-code forms.
package bitstream

import (
	"encoding/binary"

	"github.com/haishinkit/haishin/internal/logger"
)

// Form is the framing of an access unit.
type Form int

// forms.
const (
	FormLengthPrefixed Form = iota
	FormStartCode
)

// String implements fmt.Stringer.
func (f Form) String() string {
	if f == FormStartCode {
		return "start code"
	}
	return "length prefixed"
}

var startCode = []byte{0x00, 0x00, 0x00, 0x01}

// AccessUnit is a compressed video frame in a declared form.
type AccessUnit struct {
	Form Form
	Data []byte
}

// ToStreamForm returns the access unit in start-code form.
func (au AccessUnit) ToStreamForm(l logger.Writer) AccessUnit {
	if au.Form == FormStartCode {
		return au
	}
	return AccessUnit{Form: FormStartCode, Data: ToStreamForm(au.Data, l)}
}

// ToLengthPrefixedForm returns the access unit in length-prefixed form.
// The underlying buffer is rewritten in place.
func (au AccessUnit) ToLengthPrefixedForm() AccessUnit {
	if au.Form == FormLengthPrefixed {
		return au
	}
	return AccessUnit{Form: FormLengthPrefixed, Data: ToLengthPrefixedForm(au.Data)}
}

// ToStreamForm converts a sequence of [4-byte big-endian length][payload] records
// into a sequence of [00 00 00 01][payload] units.
// Records whose declared length exceeds the remaining bytes are skipped and reported to l,
// as are trailing bytes too short to hold a length.
func ToStreamForm(buf []byte, l logger.Writer) []byte {
	out := make([]byte, 0, len(buf))
	pos := 0

	for len(buf)-pos >= 4 {
		le := int(binary.BigEndian.Uint32(buf[pos:]))
		pos += 4

		if le > len(buf)-pos {
			if l != nil {
				l.Log(logger.Warn, "skipping malformed unit: declared length %d, remaining %d", le, len(buf)-pos)
			}
			continue
		}

		out = append(out, startCode...)
		out = append(out, buf[pos:pos+le]...)
		pos += le
	}

	if pos < len(buf) && l != nil {
		l.Log(logger.Warn, "skipping %d trailing bytes", len(buf)-pos)
	}

	return out
}

// ToLengthPrefixedForm converts start-code-delimited units into length-prefixed records.
//
// The buffer is scanned backward and every start code is replaced in place by the
// big-endian length of the run that follows it, using as many bytes as the start code
// occupied (3 or 4). A start code found at offset 0 is always given a 4-byte length; if
// only 3 bytes are present, the returned slice is one byte longer than buf.
// Runs of zero length between adjacent start codes are left untouched; an untouched
// start code becomes part of the payload of the preceding record.
// A buffer without start codes is returned unchanged.
func ToLengthPrefixedForm(buf []byte) []byte {
	end := len(buf)
	i := len(buf) - 3

	for i >= 0 {
		if buf[i] != 0x00 || buf[i+1] != 0x00 || buf[i+2] != 0x01 {
			i--
			continue
		}

		start := i
		if i > 0 && buf[i-1] == 0x00 {
			start = i - 1
		}

		runStart := i + 3
		runLen := end - runStart

		if runLen > 0 {
			switch {
			case start == 0 && runStart-start == 3:
				grown := make([]byte, len(buf)+1)
				copy(grown[1:], buf)
				binary.BigEndian.PutUint32(grown, uint32(runLen))
				return grown

			case runStart-start == 4:
				binary.BigEndian.PutUint32(buf[start:], uint32(runLen))

			default:
				buf[start] = byte(runLen >> 16)
				buf[start+1] = byte(runLen >> 8)
				buf[start+2] = byte(runLen)
			}

			end = start
		}

		i = start - 3
	}

	return buf
}
