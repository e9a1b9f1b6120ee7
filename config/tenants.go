package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/use-agent/pbiprobe/models"
	"gopkg.in/yaml.v3"
)

// Tenants is the run configuration file: which browser profile serves a
// tenant, and who receives each area's summary.
//
// Two layouts are accepted. The flat one maps tenant to profile directly:
//
//	DEFAULT: AutoProfile
//	EMEA: AutoProfile_emea
//
// The nested one adds recipients:
//
//	tenants:
//	  DEFAULT: AutoProfile
//	recipients:
//	  finance: ops@example.com
//	  sales: [a@example.com, b@example.com]
type Tenants struct {
	Profiles   map[string]string     `yaml:"tenants"`
	Recipients map[string]StringList `yaml:"recipients"`
}

// StringList decodes from either a YAML scalar or a sequence of scalars.
type StringList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *StringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		*l = splitAddresses(s)
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := node.Decode(&items); err != nil {
			return err
		}
		out := make([]string, 0, len(items))
		for _, it := range items {
			out = append(out, splitAddresses(it)...)
		}
		*l = out
		return nil
	default:
		return fmt.Errorf("line %d: expected address or list of addresses", node.Line)
	}
}

// splitAddresses accepts the comma-joined form the recipient field used to
// carry, e.g. "a@x.com,b@x.com".
func splitAddresses(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// LoadTenants reads and parses the tenants file at path.
func LoadTenants(path string) (*Tenants, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, models.NewProbeError(models.ErrCodeConfigInvalid, "read tenants file", err)
	}
	return ParseTenants(data)
}

// ParseTenants parses either tenants layout.
func ParseTenants(data []byte) (*Tenants, error) {
	var t Tenants
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, models.NewProbeError(models.ErrCodeConfigInvalid, "parse tenants file", err)
	}
	if len(t.Profiles) == 0 {
		// Flat layout: every top-level scalar is a tenant.
		var flat map[string]any
		if err := yaml.Unmarshal(data, &flat); err != nil {
			return nil, models.NewProbeError(models.ErrCodeConfigInvalid, "parse tenants file", err)
		}
		t.Profiles = make(map[string]string, len(flat))
		for k, v := range flat {
			if s, ok := v.(string); ok {
				t.Profiles[k] = s
			}
		}
	}
	if t.Recipients == nil {
		t.Recipients = map[string]StringList{}
	}
	// Area names are matched lowercase everywhere else.
	normalized := make(map[string]StringList, len(t.Recipients))
	for area, addrs := range t.Recipients {
		normalized[strings.ToLower(strings.TrimSpace(area))] = addrs
	}
	t.Recipients = normalized
	return &t, nil
}

// Profile returns the browser profile name configured for tenant.
func (t *Tenants) Profile(tenant string) (string, error) {
	p, ok := t.Profiles[tenant]
	if !ok || p == "" {
		known := make([]string, 0, len(t.Profiles))
		for k := range t.Profiles {
			known = append(known, k)
		}
		sort.Strings(known)
		return "", models.NewProbeError(models.ErrCodeConfigInvalid,
			fmt.Sprintf("tenant %q not configured (known: %s)", tenant, strings.Join(known, ", ")), nil)
	}
	return p, nil
}

// RecipientsFor returns the addresses for area, or nil when none are set.
func (t *Tenants) RecipientsFor(area string) []string {
	return t.Recipients[strings.ToLower(area)]
}
