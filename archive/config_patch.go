package archive

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/nakamura-labs/kaizen/types"
)

// ConfigDelta is one dotted-path change against an orchestrator config,
// e.g. {"monitoring.check_interval_seconds", 20}. Paths follow the config
// struct's json tags.
type ConfigDelta struct {
	Path  string `json:"path"`
	Value any    `json:"value"`
}

// PatchConfig applies deltas to a copy of the config and returns the
// patched copy. The input is never mutated. Unknown paths fail: a delta
// that does not round-trip through the config struct is a programming
// error, not a silent no-op.
func PatchConfig(cfg types.OrchestratorConfig, deltas []ConfigDelta) (types.OrchestratorConfig, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return cfg, fmt.Errorf("marshal config: %w", err)
	}

	for _, delta := range deltas {
		if !gjson.GetBytes(raw, delta.Path).Exists() {
			return cfg, fmt.Errorf("unknown config path %q", delta.Path)
		}
		raw, err = sjson.SetBytes(raw, delta.Path, delta.Value)
		if err != nil {
			return cfg, fmt.Errorf("patch config path %q: %w", delta.Path, err)
		}
	}

	var patched types.OrchestratorConfig
	if err := json.Unmarshal(raw, &patched); err != nil {
		return cfg, fmt.Errorf("unmarshal patched config: %w", err)
	}
	return patched, nil
}

// ConfigValue reads one dotted-path value from a config.
func ConfigValue(cfg types.OrchestratorConfig, path string) (gjson.Result, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("marshal config: %w", err)
	}
	return gjson.GetBytes(raw, path), nil
}
