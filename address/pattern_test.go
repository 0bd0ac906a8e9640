package address

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veea/vbus/errors"
)

func TestParsePattern(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"plain path", "system.app.host", false},
		{"wildcards", "system.*.*.sensors", false},
		{"only wildcard", "*", false},
		{"empty", "", true},
		{"empty segment", "system..app", true},
		{"partial wildcard", "system.ap*", true},
		{"tail wildcard", "system.>", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParsePattern(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, errors.ErrInvalidPath)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.input, p.String())
		})
	}
}

func TestPattern_Match(t *testing.T) {
	p, err := ParsePattern("system.*.*.sensors.temp1")
	require.NoError(t, err)

	captures, ok := p.Match(MustParse("system.app.hub-1.sensors.temp1"))
	require.True(t, ok)
	assert.Equal(t, []string{"app", "hub-1"}, captures)

	_, ok = p.Match(MustParse("system.app.hub-1.sensors.temp2"))
	assert.False(t, ok)
	_, ok = p.Match(MustParse("system.app.hub-1.sensors"))
	assert.False(t, ok, "lengths must agree")
	_, ok = p.Match(MustParse("system.app.hub-1.sensors.temp1.extra"))
	assert.False(t, ok)

	exact, err := ParsePattern("a.b")
	require.NoError(t, err)
	captures, ok = exact.Match(MustParse("a.b"))
	assert.True(t, ok)
	assert.Empty(t, captures)
}

func TestPattern_Subjects(t *testing.T) {
	p, err := ParsePattern("system.*.hub.sensors")
	require.NoError(t, err)

	assert.Equal(t, "system.*.hub.sensors.notify", p.Subject("notify"))
	assert.Equal(t, "system.*.hub.add", p.Parent().Subject("add"))
	assert.Equal(t, 3, p.Parent().Len())
}
