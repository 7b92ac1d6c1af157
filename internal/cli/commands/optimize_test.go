package commands

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mixstack-labs/mixpipe/internal/inference"
)

func TestParseBounds(t *testing.T) {
	channels := []string{"tv", "digital", "radio"}

	tests := []struct {
		name    string
		specs   []string
		want    map[string]inference.ChannelBound
		wantErr string
	}{
		{
			name:  "no bounds",
			specs: nil,
			want:  nil,
		},
		{
			name:  "single bound",
			specs: []string{"tv=0.2:0.6"},
			want: map[string]inference.ChannelBound{
				"tv": {Lower: 0.2, Upper: 0.6},
			},
		},
		{
			name:  "multiple bounds",
			specs: []string{"tv=0:0.5", "digital=0.1:1"},
			want: map[string]inference.ChannelBound{
				"tv":      {Lower: 0, Upper: 0.5},
				"digital": {Lower: 0.1, Upper: 1},
			},
		},
		{
			name:    "missing equals",
			specs:   []string{"tv 0.2:0.6"},
			wantErr: "expected channel=lower:upper",
		},
		{
			name:    "missing colon",
			specs:   []string{"tv=0.5"},
			wantErr: "expected channel=lower:upper",
		},
		{
			name:    "unknown channel",
			specs:   []string{"print=0.1:0.2"},
			wantErr: `unknown channel "print"`,
		},
		{
			name:    "lower above upper",
			specs:   []string{"tv=0.6:0.2"},
			wantErr: "out of range",
		},
		{
			name:    "fraction above one",
			specs:   []string{"tv=0.5:1.5"},
			wantErr: "out of range",
		},
		{
			name:    "negative lower",
			specs:   []string{"tv=-0.1:0.5"},
			wantErr: "out of range",
		},
		{
			name:    "non-numeric bound",
			specs:   []string{"tv=low:high"},
			wantErr: "invalid lower bound",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseBounds(tt.specs, channels)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRenderOptimizeResult(t *testing.T) {
	result := &inference.OptimizeResult{
		Allocations: []inference.ChannelAllocation{
			{Channel: "tv", CurrentSpend: 60000, OptimizedSpend: 45000, ROIMean: 1.8},
			{Channel: "digital", CurrentSpend: 40000, OptimizedSpend: 55000, ROIMean: 2.4},
		},
		CurrentOutcome:   120000,
		OptimizedOutcome: 134400,
	}

	cmd := NewOptimizeCommand()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)

	require.NoError(t, renderOptimizeResult(cmd, result, "table"))

	out := buf.String()
	assert.Contains(t, out, "tv")
	assert.Contains(t, out, "45000")
	assert.Contains(t, out, "+15000")
	assert.Contains(t, out, "Expected outcome: 120000 -> 134400 (+12.0%)")

	buf.Reset()
	require.NoError(t, renderOptimizeResult(cmd, result, "json"))
	assert.Contains(t, buf.String(), `"digital"`)
}

func TestNewOptimizeCommandMetadata(t *testing.T) {
	cmd := NewOptimizeCommand()

	assert.Equal(t, "optimize <artifact>", cmd.Use)
	assert.NotEmpty(t, cmd.Short, "Short should not be empty")

	for _, flag := range []string{"budget", "bound", "format"} {
		assert.NotNil(t, cmd.Flags().Lookup(flag), "flag %q should exist", flag)
	}
}
