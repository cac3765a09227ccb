package node

import (
	"fmt"
	"strings"
)

func distribution(f Facts) string {
	return strings.ToLower(f.String("distribution"))
}

func majorVersion(f Facts) int {
	v, _ := f.Int("distribution_major_version")
	return v
}

// RegisterDefaults installs the built-in families and candidates into r.
func RegisterDefaults(r *Registry) error {
	r.RegisterFamily("RedHat", map[string]any{"package_manager": "yum", "service_manager": "systemd"})
	r.RegisterFamily("Debian", map[string]any{"package_manager": "apt", "service_manager": "systemd"})

	for _, c := range []Candidate{
		{
			Name: "CentOS7",
			Applies: func(f Facts) bool {
				return distribution(f) == "centos" && majorVersion(f) >= 7
			},
		},
		{
			Name: "CentOS6",
			Applies: func(f Facts) bool {
				return distribution(f) == "centos" && majorVersion(f) == 6
			},
			Traits: map[string]any{"service_manager": "sysvinit"},
		},
		{
			Name: "Rocky",
			Applies: func(f Facts) bool {
				return distribution(f) == "rocky" && majorVersion(f) >= 8
			},
			Traits: map[string]any{"package_manager": "dnf"},
		},
	} {
		if err := r.Register("RedHat", c); err != nil {
			return fmt.Errorf("registering %s: %w", c.Name, err)
		}
	}

	for _, c := range []Candidate{
		{
			Name:    "Ubuntu",
			Applies: func(f Facts) bool { return distribution(f) == "ubuntu" },
		},
		{
			Name:    "Debian",
			Applies: func(f Facts) bool { return distribution(f) == "debian" },
		},
	} {
		if err := r.Register("Debian", c); err != nil {
			return fmt.Errorf("registering %s: %w", c.Name, err)
		}
	}
	return nil
}
