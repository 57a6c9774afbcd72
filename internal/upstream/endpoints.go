package upstream

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Endpoints holds the archive path templates. Asset and pair lookups list
// every known deployment variant in preference order; the client tries them
// one by one until a call succeeds.
type Endpoints struct {
	Head             string   `yaml:"head"`
	Status           string   `yaml:"status"`
	EpochTicks       string   `yaml:"epochTicks"`
	TickTransactions string   `yaml:"tickTransactions"`
	Asset            []string `yaml:"asset"`
	Pair             []string `yaml:"pair"`
}

// DefaultEndpoints returns the path templates of the public archive.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Head:             "/v1/latestTick",
		Status:           "/v1/status",
		EpochTicks:       "/v2/epochs/%d/ticks?page=%d&pageSize=%d",
		TickTransactions: "/v2/ticks/%d/transactions",
		Asset: []string{
			"/v1/qswap/assets/%s",
			"/v1/assets/%s/issued",
			"/v1/qx/assets/%s",
		},
		Pair: []string{
			"/v1/qswap/pools/%s",
			"/v1/qswap/pairs/%s",
		},
	}
}

// LoadEndpoints overlays templates from a YAML file onto the defaults.
// Empty fields in the file keep their default values.
func LoadEndpoints(path string) (Endpoints, error) {
	eps := DefaultEndpoints()
	data, err := os.ReadFile(path)
	if err != nil {
		return eps, fmt.Errorf("read endpoints file: %w", err)
	}

	var overlay Endpoints
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return eps, fmt.Errorf("parse endpoints file: %w", err)
	}

	if overlay.Head != "" {
		eps.Head = overlay.Head
	}
	if overlay.Status != "" {
		eps.Status = overlay.Status
	}
	if overlay.EpochTicks != "" {
		eps.EpochTicks = overlay.EpochTicks
	}
	if overlay.TickTransactions != "" {
		eps.TickTransactions = overlay.TickTransactions
	}
	if len(overlay.Asset) > 0 {
		eps.Asset = overlay.Asset
	}
	if len(overlay.Pair) > 0 {
		eps.Pair = overlay.Pair
	}
	return eps, nil
}
