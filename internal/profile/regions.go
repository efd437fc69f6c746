// Package profile holds the field-worker profile rules and the region
// directory of states and their districts.
package profile

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// District is one district of a region.
type District struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// Region is a state and the districts a field worker may pick in it. A
// region may list no districts.
type Region struct {
	ID        string     `yaml:"id"`
	Name      string     `yaml:"name"`
	Districts []District `yaml:"districts"`
}

// District returns the district with the given id.
func (r Region) District(id string) (District, bool) {
	for _, d := range r.Districts {
		if d.ID == id {
			return d, true
		}
	}
	return District{}, false
}

type regionsFile struct {
	Regions []Region `yaml:"regions"`
}

// Directory is an immutable, ordered set of regions.
type Directory struct {
	regions []Region
	byID    map[string]int
}

// NewDirectory builds a directory, rejecting blank or repeated ids.
func NewDirectory(regions []Region) (*Directory, error) {
	d := &Directory{byID: make(map[string]int, len(regions))}
	var errs []string
	for i, r := range regions {
		path := fmt.Sprintf("regions[%d]", i)
		if strings.TrimSpace(r.ID) == "" {
			errs = append(errs, path+": id is required")
			continue
		}
		if _, dup := d.byID[r.ID]; dup {
			errs = append(errs, fmt.Sprintf("%s: region %q is declared twice", path, r.ID))
			continue
		}
		seen := make(map[string]bool, len(r.Districts))
		for j, dist := range r.Districts {
			switch {
			case strings.TrimSpace(dist.ID) == "":
				errs = append(errs, fmt.Sprintf("%s.districts[%d]: id is required", path, j))
			case seen[dist.ID]:
				errs = append(errs, fmt.Sprintf("%s.districts[%d]: district %q is declared twice", path, j, dist.ID))
			}
			seen[dist.ID] = true
		}
		r.Districts = append([]District(nil), r.Districts...)
		d.byID[r.ID] = len(d.regions)
		d.regions = append(d.regions, r)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid regions: %s", strings.Join(errs, "; "))
	}
	return d, nil
}

// LoadDirectory reads a YAML file with a top-level regions list.
func LoadDirectory(path string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var f regionsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	d, err := NewDirectory(f.Regions)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

// Regions returns every region in declaration order.
func (d *Directory) Regions() []Region {
	if d == nil {
		return nil
	}
	out := make([]Region, len(d.regions))
	for i, r := range d.regions {
		r.Districts = append([]District(nil), r.Districts...)
		out[i] = r
	}
	return out
}

// Region returns the region with the given id.
func (d *Directory) Region(id string) (Region, bool) {
	if d == nil {
		return Region{}, false
	}
	i, ok := d.byID[id]
	if !ok {
		return Region{}, false
	}
	return d.regions[i], true
}
