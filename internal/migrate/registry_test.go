package migrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Add(t *testing.T) {
	reg := NewRegistry("version").
		Add("0.1.0", nil).
		Add("0.2.0", nil).
		Add("0.10.0", nil)

	assert.Equal(t, "version", reg.Field())
	assert.Equal(t, "0.10.0", reg.Latest())
	assert.Equal(t, []string{"0.1.0", "0.2.0", "0.10.0"}, reg.Versions())
}

func TestRegistry_AddPanicsOnBadOrder(t *testing.T) {
	tests := []struct {
		name     string
		versions []string
	}{
		{"duplicate", []string{"0.1.0", "0.1.0"}},
		{"decreasing", []string{"0.2.0", "0.1.0"}},
		{"not semver", []string{"first"}},
		{"not canonical", []string{"0.1"}},
		{"v prefix", []string{"v0.1.0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewRegistry("version")
			assert.Panics(t, func() {
				for _, v := range tt.versions {
					reg.Add(v, nil)
				}
			})
		})
	}
}

func TestNewRegistry_PanicsOnEmptyField(t *testing.T) {
	assert.Panics(t, func() { NewRegistry("") })
}

func TestRegistry_Check(t *testing.T) {
	reg := NewRegistry("version").Add("0.1.0", nil).Add("0.2.0", nil)

	require.NoError(t, reg.Check("0.2.0"))
	assert.ErrorIs(t, reg.Check("0.3.0"), ErrLatestMismatch)
	assert.ErrorIs(t, NewRegistry("version").Check("0.1.0"), ErrEmptyRegistry)
}

func TestRegistry_NoOpStepAdvancesTag(t *testing.T) {
	reg := NewRegistry("schema").Add("1.0.0", nil)
	doc := Document{"data": "kept"}

	res, err := Upgrade(doc, reg)
	require.NoError(t, err)
	assert.Equal(t, Updated, res)
	assert.Equal(t, Document{"schema": "1.0.0", "data": "kept"}, doc)
}
