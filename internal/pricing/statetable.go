package pricing

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/khetibazaar/mandicore/internal/domain"
)

//go:embed state_averages.toml
var stateAveragesTOML []byte

// defaultEntry is the per-state commodity key holding the state's fallback
// average.
const defaultEntry = "default"

// StateAverageTable is an immutable, versioned table of state-level average
// mandi prices (₹/quintal), the second rung of the resolver fallback chain.
// Constructed once and shared; never mutated after load.
type StateAverageTable struct {
	version       string
	globalDefault float64
	states        map[string]map[string]float64
}

// stateAveragesFile mirrors the TOML layout of the table resource.
type stateAveragesFile struct {
	Version       string                        `toml:"version"`
	GlobalDefault float64                       `toml:"global_default"`
	States        map[string]map[string]float64 `toml:"states"`
}

// LoadStateAverages parses a state-average table from TOML. Keys are
// normalized so lookups are case- and whitespace-insensitive.
func LoadStateAverages(data []byte) (*StateAverageTable, error) {
	var file stateAveragesFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("pricing: parse state averages: %w", err)
	}
	if file.GlobalDefault <= 0 {
		return nil, fmt.Errorf("pricing: state averages %q: global_default must be positive", file.Version)
	}

	states := make(map[string]map[string]float64, len(file.States))
	for state, commodities := range file.States {
		entry := make(map[string]float64, len(commodities))
		for commodity, price := range commodities {
			entry[domain.NormalizeName(commodity)] = price
		}
		states[domain.NormalizeName(state)] = entry
	}

	return &StateAverageTable{
		version:       file.Version,
		globalDefault: file.GlobalDefault,
		states:        states,
	}, nil
}

// EmbeddedStateAverages returns the table compiled into the binary.
func EmbeddedStateAverages() *StateAverageTable {
	table, err := LoadStateAverages(stateAveragesTOML)
	if err != nil {
		// The embedded resource is validated at build time by the package
		// tests; a parse failure here is a packaging bug.
		panic(err)
	}
	return table
}

// Version returns the table's resource version string.
func (t *StateAverageTable) Version() string {
	return t.version
}

// Lookup resolves a state-level average for the commodity. State matching is
// exact first, then substring in either direction; an unknown state misses
// entirely (ok = false) so the resolver can fall through to the national
// baseline. Commodity matching falls back to the state's default entry, then
// the table's global default. The returned source names the rung that
// answered.
func (t *StateAverageTable) Lookup(state, commodity string) (price float64, source string, ok bool) {
	stateKey := domain.NormalizeName(state)
	commodityKey := domain.NormalizeName(commodity)

	entry, found := t.states[stateKey]
	if !found && stateKey != "" {
		for key, candidate := range t.states {
			if strings.Contains(key, stateKey) || strings.Contains(stateKey, key) {
				entry, found = candidate, true
				stateKey = key
				break
			}
		}
	}
	if !found {
		return 0, "", false
	}

	if price, has := entry[commodityKey]; has {
		return price, "state_average:" + stateKey, true
	}
	if price, has := entry[defaultEntry]; has {
		return price, "state_default:" + stateKey, true
	}
	return t.globalDefault, "global_default", true
}
