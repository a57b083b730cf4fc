package analysis

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Denylist removes hospitals from change analysis, either by exact name or
// by a case-insensitive substring.
type Denylist struct {
	Hospitals  []string `yaml:"hospitals"`
	Substrings []string `yaml:"substrings"`

	exact map[string]struct{}
	lower []string
}

// DefaultDenylist excludes paediatric units and sites with known reporting
// gaps.
func DefaultDenylist() *Denylist {
	d := &Denylist{
		Hospitals: []string{
			"GSVM Kanpur",
			"The Children's Hospital - Shillong",
			"The Children's Hospital Shillong",
			"Swaroop Rani Hospital - Prayagraj",
			"Sai Children Hospital - Tohana",
			"Heritage Hospital - Gorakhpur",
			"SHRI Guntur",
			"MLB Jhansi",
			"SNMC Agra",
		},
		Substrings: []string{"child"},
	}
	d.index()
	return d
}

// LoadDenylist reads a YAML denylist. An empty path returns the default list.
func LoadDenylist(path string) (*Denylist, error) {
	if path == "" {
		return DefaultDenylist(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read denylist: %w", err)
	}
	var d Denylist
	if err := yaml.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("parse denylist %s: %w", path, err)
	}
	d.index()
	return &d, nil
}

func (d *Denylist) index() {
	d.exact = make(map[string]struct{}, len(d.Hospitals))
	for _, h := range d.Hospitals {
		d.exact[strings.TrimSpace(h)] = struct{}{}
	}
	d.lower = d.lower[:0]
	for _, s := range d.Substrings {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			d.lower = append(d.lower, s)
		}
	}
}

// Excludes reports whether hospital is denied. A nil list denies nothing.
func (d *Denylist) Excludes(hospital string) bool {
	if d == nil {
		return false
	}
	if d.exact == nil {
		d.index()
	}
	if _, ok := d.exact[hospital]; ok {
		return true
	}
	name := strings.ToLower(hospital)
	for _, s := range d.lower {
		if strings.Contains(name, s) {
			return true
		}
	}
	return false
}
