package nodeconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dan246/mtx-toolkit/internal/models"
)

func TestParse(t *testing.T) {
	doc, err := Parse("paths:\n  cam1:\n    source: rtsp://a\n")
	require.NoError(t, err)
	assert.Contains(t, doc, "paths")

	_, err = Parse("")
	assert.ErrorIs(t, err, models.ErrConfigYAMLRequired)

	_, err = Parse(":\n  - broken")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		yaml      string
		valid     bool
		warnings  int
		errSubstr string
	}{
		{
			name:  "minimal valid",
			yaml:  "paths:\n  cam1: null\n",
			valid: true,
		},
		{
			name:  "valid with entries",
			yaml:  "paths:\n  cam1:\n    source: rtsp://cam1.local/stream\n    runOnReady: ffmpeg -i x\n",
			valid: true,
		},
		{
			name:      "missing paths",
			yaml:      "logLevel: info\n",
			valid:     false,
			errSubstr: "no paths",
		},
		{
			name:      "paths not a mapping",
			yaml:      "paths:\n  - cam1\n",
			valid:     false,
			errSubstr: "must be a mapping",
		},
		{
			name:      "entry not a mapping",
			yaml:      "paths:\n  cam1: 42\n",
			valid:     false,
			errSubstr: "must be null or a mapping",
		},
		{
			name:      "source not a string",
			yaml:      "paths:\n  cam1:\n    source: 17\n",
			valid:     false,
			errSubstr: "source must be a string",
		},
		{
			name:     "short timeout warns",
			yaml:     "paths:\n  cam1:\n    readTimeout: 2s\n",
			valid:    true,
			warnings: 1,
		},
		{
			name:     "short global timeout warns",
			yaml:     "readTimeout: 3\npaths:\n  cam1: null\n",
			valid:    true,
			warnings: 1,
		},
		{
			name:     "generous timeout is quiet",
			yaml:     "paths:\n  cam1:\n    readTimeout: 10s\n",
			valid:    true,
			warnings: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := Parse(tt.yaml)
			require.NoError(t, err)

			result := Validate(doc)
			assert.Equal(t, tt.valid, result.Valid)
			assert.Len(t, result.Warnings, tt.warnings)
			if tt.errSubstr != "" {
				require.NotEmpty(t, result.Errors)
				assert.Contains(t, result.Errors[0], tt.errSubstr)
			}
		})
	}
}

func TestTimeoutSeconds(t *testing.T) {
	tests := []struct {
		in   any
		want float64
		ok   bool
	}{
		{2, 2, true},
		{2.5, 2.5, true},
		{"2s", 2, true},
		{"500ms", 0.5, true},
		{"3", 3, true},
		{"garbage", 0, false},
		{true, 0, false},
	}

	for _, tt := range tests {
		got, ok := timeoutSeconds(tt.in)
		assert.Equal(t, tt.ok, ok)
		if ok {
			assert.InDelta(t, tt.want, got, 0.001)
		}
	}
}
