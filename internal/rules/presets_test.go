package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyPresetReplacesRuleListAtomically(t *testing.T) {
	m := NewManager()
	m.AddRule(NewDistanceRule("placeholder", Low, 0, 1))

	ok := m.ApplyPreset("tight_fighter")
	require.True(t, ok)

	names := m.EnabledRuleNames()
	assert.ElementsMatch(t, []string{"HostileCheck", "TightDist", "TightAlt", "TightSpeed", "TightHeading"}, names)
}

func TestApplyPresetUnknownNameLeavesRulesUntouched(t *testing.T) {
	m := NewManager()
	m.AddRule(NewDistanceRule("kept", Low, 0, 1))

	ok := m.ApplyPreset("does-not-exist")

	assert.False(t, ok)
	assert.Equal(t, []string{"kept"}, m.EnabledRuleNames())
}

func TestAllFourPresetsRegistered(t *testing.T) {
	for _, name := range []string{"tight_fighter", "loose_bomber", "strike_package", "awacs_control"} {
		assert.True(t, HasPreset(name), name)
	}
}

func TestStrikePackagePresetIncludesPlatformTypeRule(t *testing.T) {
	m := NewManager()
	require.True(t, m.ApplyPreset("strike_package"))

	_, ok := m.GetRule("MixedTypes")
	assert.True(t, ok)
}
