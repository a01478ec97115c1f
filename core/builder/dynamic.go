package builder

import (
	"strings"

	"github.com/relabs-tech/kontrakt/core"
	"github.com/relabs-tech/kontrakt/core/contract"
)

// BuildDynamic builds a contract from a runtime definition. Dynamic
// resources have no entity type: every field must be declared, and the
// backend must be one of the dynamic strategies. The new contract is
// validated against the live set so relation targets and route collisions
// are caught before it goes live.
func BuildDynamic(cfg *ResourceConfiguration, set *contract.Set) (*contract.Resource, error) {
	if cfg.Backend == "" {
		cfg.Backend = string(contract.BackendDynamicJSON)
	}
	switch contract.Backend(cfg.Backend) {
	case contract.BackendDynamicJSON, contract.BackendDynamicEAV, contract.BackendDynamicHybrid:
	default:
		return nil, core.ConfigError("invalid dynamic definition",
			[]string{"resource " + cfg.Resource + ": backend " + cfg.Backend + " is not a dynamic strategy"})
	}

	var violations []string
	rc := buildResource(cfg, nil, "exclude", &violations)
	if rc != nil {
		all := []*contract.Resource{rc}
		for _, key := range set.Keys() {
			if other, ok := set.ByKey(key); ok && !strings.EqualFold(other.ResourceKey, rc.ResourceKey) {
				all = append(all, other)
			}
		}
		violations = append(violations, validateSet(all)...)
	}
	if len(violations) > 0 {
		return nil, core.ConfigError("invalid dynamic definition", violations)
	}
	return rc, nil
}
