package yamlwrapper

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type testSegments struct {
	Count    int      `json:"count"`
	Duration string   `json:"duration"`
	Kinds    []string `json:"kinds"`
}

type testStruct struct {
	Address  string            `json:"address"`
	Record   bool              `json:"record"`
	Options  map[string]string `json:"options"`
	Segments testSegments      `json:"segments"`
}

func TestUnmarshal(t *testing.T) {
	buf := []byte(`
address: :8890
record: yes
options:
  latency: "200"
segments:
  count: 5
  duration: 2s
  kinds: [video, audio]
`)

	var dest testStruct
	err := Unmarshal(buf, &dest)
	require.NoError(t, err)

	require.Equal(t, testStruct{
		Address: ":8890",
		Record:  true,
		Options: map[string]string{"latency": "200"},
		Segments: testSegments{
			Count:    5,
			Duration: "2s",
			Kinds:    []string{"video", "audio"},
		},
	}, dest)
}

func TestUnmarshalIntegerMapKey(t *testing.T) {
	buf := []byte(`
1: value
test: value2
`)

	var dest any
	err := Unmarshal(buf, &dest)
	require.EqualError(t, err, "non-string keys are not supported (1)")
}

func TestUnmarshalDuplicateKey(t *testing.T) {
	buf := []byte(`
key: value1
key: value2
`)

	err := Unmarshal(buf, &map[string]string{})
	require.Error(t, err)
}

func TestUnmarshalUnknownFields(t *testing.T) {
	input := []byte(`address: test
unknownField: value
record: true`)

	var result testStruct
	err := Unmarshal(input, &result)
	require.EqualError(t, err, "json: unknown field \"unknownField\"")
}

func TestUnmarshalEmpty(t *testing.T) {
	result := testStruct{Address: "keep"}
	err := Unmarshal([]byte(``), &result)
	require.NoError(t, err)
	require.Equal(t, "keep", result.Address)
}

func FuzzUnmarshal(f *testing.F) {
	f.Add([]byte("address: :8890\n"))
	f.Fuzz(func(_ *testing.T, buf []byte) {
		var dest any
		Unmarshal(buf, &dest) //nolint:errcheck
	})
}
