package dispatcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    Record
		wantErr bool
	}{
		{
			name: "host result",
			in:   `{"host":"10.0.0.5","result":{"invocation":{"module_name":"setup"}}}`,
			want: Record{Host: "10.0.0.5", Result: map[string]any{
				"invocation": map[string]any{"module_name": "setup"},
			}},
		},
		{name: "sentinel object", in: `{"type":"goodbye"}`, want: Record{Type: "goodbye"}},
		{name: "bare sentinel", in: " goodbye\n", want: Record{Type: "goodbye"}},
		{name: "quoted sentinel", in: `"goodbye"`, want: Record{Type: "goodbye"}},
		{name: "quoted monitor sentinel", in: `"MONITORDONE"`, want: Record{Type: MonitorDone}},
		{name: "quoted arbitrary string", in: `"hello"`, wantErr: true},
		{name: "quoted empty string", in: `""`, wantErr: true},
		{name: "unknown field", in: `{"type":"goodbye","rm":"-rf"}`, wantErr: true},
		{name: "trailing data", in: `{"type":"goodbye"}{"type":"x"}`, wantErr: true},
		{name: "host without result", in: `{"host":"10.0.0.5"}`, wantErr: true},
		{name: "empty object", in: `{}`, wantErr: true},
		{name: "expression", in: `__import__("os")`, wantErr: true},
		{name: "empty", in: ``, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.in))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformed)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncodeResult(t *testing.T) {
	data, err := EncodeResult("10.0.0.5", "setup", map[string]any{
		"ansible_facts": map[string]any{"os_family": "RedHat"},
		"invocation":    map[string]any{"module_args": ""},
	})
	require.NoError(t, err)

	rec, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", rec.Host)

	module, ok := rec.Module()
	require.True(t, ok)
	assert.Equal(t, "setup", module)

	inv := rec.Result["invocation"].(map[string]any)
	assert.Equal(t, "", inv["module_args"])
}

func TestModuleMissing(t *testing.T) {
	_, ok := Record{Host: "h", Result: map[string]any{}}.Module()
	assert.False(t, ok)

	_, ok = Record{Host: "h", Result: map[string]any{"invocation": map[string]any{"module_name": 3}}}.Module()
	assert.False(t, ok)
}
