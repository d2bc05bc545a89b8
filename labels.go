package detprep

// Label vocabulary functionality.

import (
	"encoding/json"
	"io/ioutil"
	"strconv"

	"github.com/pkg/errors"
)

// LabelEntry maps one class name to its id. Several names may share an id.
type LabelEntry struct {
	Name string `json:"name" yaml:"name"`
	ID   int64  `json:"id" yaml:"id"`
}

// LabelMap is an ordered label vocabulary. The first entry for an id holds its canonical name.
type LabelMap []LabelEntry

// DefaultLabelMap returns the 9-class vocabulary. rider and wheelchair-user are aliases of
// pedestrian.
func DefaultLabelMap() LabelMap {
	return LabelMap{
		{"pedestrian", 1},
		{"aid-seated", 2},
		{"pushable", 3},
		{"pullable", 4},
		{"mobility-standing", 5},
		{"stroller", 6},
		{"wheelchair", 7},
		{"cycle", 8},
		{"cyclist", 9},
		{"rider", 1},
		{"wheelchair-user", 1},
	}
}

// Lookup returns the id for name.
func (m LabelMap) Lookup(name string) (int64, bool) {
	for _, e := range m {
		if e.Name == name {
			return e.ID, true
		}
	}
	return 0, false
}

// NumClasses is the number of distinct ids.
func (m LabelMap) NumClasses() int {
	ids := make(map[int64]struct{}, len(m))
	for _, e := range m {
		ids[e.ID] = struct{}{}
	}
	return len(ids)
}

// Canonical maps every id to the first name listed for it.
func (m LabelMap) Canonical() map[int64]string {
	names := make(map[int64]string, len(m))
	for _, e := range m {
		if _, ok := names[e.ID]; !ok {
			names[e.ID] = e.Name
		}
	}
	return names
}

// Validate rejects empty names, non-positive ids (0 is the background class) and names that are
// listed twice.
func (m LabelMap) Validate() error {
	if len(m) == 0 {
		return errors.New("empty label map")
	}
	seen := make(map[string]bool, len(m))
	for _, e := range m {
		if e.Name == "" || e.ID <= 0 {
			return errors.Errorf("invalid label entry: %q: %d", e.Name, e.ID)
		}
		if seen[e.Name] {
			return errors.Errorf("duplicate label %q", e.Name)
		}
		seen[e.Name] = true
	}
	return nil
}

// WriteLabelMap writes the canonical names of m to path as a JSON object keyed by id, which is
// the label_id_mapping format read by the inference tool.
func WriteLabelMap(path string, m LabelMap) error {
	names := m.Canonical()
	out := make(map[string]string, len(names))
	for id, name := range names {
		out[strconv.FormatInt(id, 10)] = name
	}

	enc, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	if err := ioutil.WriteFile(path, enc, 0644); err != nil {
		return errors.Wrapf(err, "cannot write label map %q", path)
	}
	return nil
}
