package scheduler

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tasknode/tasknode-be/internal/scheduler/domain"
)

func TestParseManifest(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []manifestEntry
		wantErr bool
	}{
		{
			name:  "single entry",
			input: "report.pdf,2048,1756700000\n",
			want: []manifestEntry{
				{Name: "report.pdf", Size: 2048, Timestamp: time.Unix(1756700000, 0).UTC()},
			},
		},
		{
			name:  "multiple entries with blank lines",
			input: "a.csv,10,1756700000\n\nb.csv,0,1756700001\n\n",
			want: []manifestEntry{
				{Name: "a.csv", Size: 10, Timestamp: time.Unix(1756700000, 0).UTC()},
				{Name: "b.csv", Size: 0, Timestamp: time.Unix(1756700001, 0).UTC()},
			},
		},
		{
			name:  "whitespace around numbers",
			input: "out.txt, 42 , 1756700000\n",
			want: []manifestEntry{
				{Name: "out.txt", Size: 42, Timestamp: time.Unix(1756700000, 0).UTC()},
			},
		},
		{
			name:  "empty manifest",
			input: "",
			want:  nil,
		},
		{
			name:    "missing fields",
			input:   "lonely.txt,12\n",
			wantErr: true,
		},
		{
			name:    "too many fields",
			input:   "a,1,2,3\n",
			wantErr: true,
		},
		{
			name:    "non-numeric size",
			input:   "a.csv,big,1756700000\n",
			wantErr: true,
		},
		{
			name:    "non-numeric timestamp",
			input:   "a.csv,10,yesterday\n",
			wantErr: true,
		},
		{
			name:    "garbage line",
			input:   "this is not a manifest\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseManifest(strings.NewReader(tt.input))

			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, domain.ErrMalformedManifest)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
