package config

import (
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/wanderport/livesync/internal/rules"
)

// routingDocument is the on-disk shape of a routing rules file:
//
//	rules:
//	  - name: quiet-system
//	    when: notification.type == "system"
//	    action: mute
type routingDocument struct {
	Rules []rules.Definition `koanf:"rules"`
}

// LoadRoutingRules reads the routing rule definitions from a YAML file. The
// definitions are returned uncompiled; callers compile them so a broken file
// can be rejected without disturbing the active set.
func LoadRoutingRules(path string) ([]rules.Definition, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("config: load rules file %s: %w", path, err)
	}
	var doc routingDocument
	if err := k.Unmarshal("", &doc); err != nil {
		return nil, fmt.Errorf("config: unmarshal rules file %s: %w", path, err)
	}
	for i, def := range doc.Rules {
		if def.Name == "" {
			return nil, fmt.Errorf("config: rules file %s: rule %d has no name", path, i)
		}
		if def.When == "" {
			return nil, fmt.Errorf("config: rules file %s: rule %q has no condition", path, def.Name)
		}
	}
	return doc.Rules, nil
}
