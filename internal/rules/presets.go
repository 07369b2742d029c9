package rules

// Preset is a named, declarative rule-set bundle. Applying a preset clears
// the active rule list and installs a fresh copy of its rules, so presets
// can be reused across multiple managers without sharing rule state.
type Preset struct {
	Name  string
	Build func() []Rule
}

// HostilePairsDefault is the single {RED, BLUE} hostile-nation entry the
// Python original hard-codes; configurable via Config.Recognition.HostilePairs
// per the decision recorded in SPEC_FULL.md §9.
var HostilePairsDefault = []HostilePair{{"RED", "BLUE"}}

// presetRegistry holds the four named presets ported verbatim (parameters
// and priorities) from original_source/rule_manager.py's create_preset.
var presetRegistry = map[string]Preset{}

func registerPreset(name string, build func() []Rule) {
	presetRegistry[name] = Preset{Name: name, Build: build}
}

func init() {
	registerPreset("tight_fighter", func() []Rule {
		return []Rule{
			NewAttributeRule("HostileCheck", Critical, true, true, false, HostilePairsDefault),
			NewDistanceRule("TightDist", Critical, 0, 3000),
			NewAltitudeRule("TightAlt", High, 300, true),
			NewSpeedRule("TightSpeed", High, 20, 1.1),
			NewHeadingRule("TightHeading", High, 15, false),
		}
	})

	registerPreset("loose_bomber", func() []Rule {
		return []Rule{
			NewAttributeRule("AllianceCheck", Critical, true, true, false, HostilePairsDefault),
			NewDistanceRule("LooseDist", Critical, 3000, 10000),
			NewAltitudeRule("LooseAlt", High, 1000, true),
			NewSpeedRule("LooseSpeed", High, 30, 1.2),
			NewHeadingRule("LooseHeading", High, 20, false),
		}
	})

	registerPreset("strike_package", func() []Rule {
		return []Rule{
			NewAttributeRule("CoalitionCheck", Critical, true, true, false, HostilePairsDefault),
			NewDistanceRule("PackageDist", Critical, 5000, 20000),
			NewAltitudeRule("PackageAlt", Medium, 2000, false),
			NewSpeedRule("PackageSpeed", Medium, 100, 2.0),
			NewHeadingRule("PackageHeading", Medium, 60, true),
			NewPlatformTypeRule("MixedTypes", Medium, mixedAllowedPairs(), nil),
		}
	})

	registerPreset("awacs_control", func() []Rule {
		return []Rule{
			NewAttributeRule("AllianceCheck", Critical, true, true, false, HostilePairsDefault),
			NewDistanceRule("AWACSDist", Critical, 50000, 150000),
			NewAltitudeRule("AWACSAlt", High, 3000, false),
		}
	})
}

func mixedAllowedPairs() []TypePair {
	return []TypePair{
		{"Fighter", "Bomber"},
		{"Fighter", "EW"},
		{"AWACS", "Fighter"},
	}
}

// ApplyPreset clears m's rule list and installs preset name's rules. Manager
// has no lock of its own, so the swap is atomic only for callers that
// serialise access to m; recognition.Engine.ApplyPreset does so under the
// same mutex its Recognize holds.
func (m *Manager) ApplyPreset(name string) bool {
	preset, ok := presetRegistry[name]
	if !ok {
		return false
	}
	m.Clear()
	m.AddRules(preset.Build())
	return true
}

// PresetNames returns every registered preset name.
func PresetNames() []string {
	names := make([]string, 0, len(presetRegistry))
	for name := range presetRegistry {
		names = append(names, name)
	}
	return names
}

// HasPreset reports whether name is a known preset.
func HasPreset(name string) bool {
	_, ok := presetRegistry[name]
	return ok
}
