package ensemble

import (
	"strings"
)

// Member identifies one ensemble member by its model_variant_project key,
// e.g. "ACCESS1-0_r1i1p1_CMIP5". Model names may themselves contain
// underscores, so the key is split from the right.
type Member struct {
	Model   string `json:"model"`
	Variant string `json:"variant"`
	Project string `json:"project"`
}

// ParseMember parses a unique member key.
func ParseMember(key string) (Member, error) {
	parts := strings.Split(key, "_")
	if len(parts) < 3 {
		return Member{}, Configf("member key %q must be model_variant_project", key)
	}
	n := len(parts)
	m := Member{
		Model:   strings.Join(parts[:n-2], "_"),
		Variant: parts[n-2],
		Project: parts[n-1],
	}
	if m.Model == "" || m.Variant == "" || m.Project == "" {
		return Member{}, Configf("member key %q has an empty component", key)
	}
	return m, nil
}

// ParseMembers parses keys in order and rejects duplicates.
func ParseMembers(keys []string) ([]Member, error) {
	seen := make(map[string]bool, len(keys))
	out := make([]Member, 0, len(keys))
	for _, k := range keys {
		if seen[k] {
			return nil, Configf("duplicate member %q", k)
		}
		seen[k] = true
		m, err := ParseMember(k)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// Key returns the unique member identifier.
func (m Member) Key() string {
	return m.Model + "_" + m.Variant + "_" + m.Project
}

// PhysicalModel identifies the model independent of its variant.
func (m Member) PhysicalModel() string {
	return m.Model + "_" + m.Project
}

func (m Member) String() string { return m.Key() }

// Keys returns the member keys in order.
func Keys(members []Member) []string {
	out := make([]string, len(members))
	for i, m := range members {
		out[i] = m.Key()
	}
	return out
}

// UniqueModels keeps the first member of every physical model, preserving
// input order. The result is the calibration subset.
func UniqueModels(members []Member) []Member {
	seen := make(map[string]bool)
	var out []Member
	for _, m := range members {
		pm := m.PhysicalModel()
		if seen[pm] {
			continue
		}
		seen[pm] = true
		out = append(out, m)
	}
	return out
}

// Indices maps each of subset to its position in members.
func Indices(members, subset []Member) ([]int, error) {
	pos := make(map[string]int, len(members))
	for i, m := range members {
		pos[m.Key()] = i
	}
	out := make([]int, len(subset))
	for i, m := range subset {
		idx, ok := pos[m.Key()]
		if !ok {
			return nil, Configf("calibration member %q not in ensemble", m.Key())
		}
		out[i] = idx
	}
	return out, nil
}

// GroupByModel returns member indices grouped per physical model, in order of
// first appearance.
func GroupByModel(members []Member) [][]int {
	pos := make(map[string]int)
	var groups [][]int
	for i, m := range members {
		pm := m.PhysicalModel()
		g, ok := pos[pm]
		if !ok {
			g = len(groups)
			pos[pm] = g
			groups = append(groups, nil)
		}
		groups[g] = append(groups[g], i)
	}
	return groups
}

// HasEnsembles reports whether any physical model has more than one member.
func HasEnsembles(members []Member) bool {
	for _, g := range GroupByModel(members) {
		if len(g) > 1 {
			return true
		}
	}
	return false
}

// Matrix is a square member x member array. Row index is the perfect
// (surrogate truth) member, column index the weighted member.
type Matrix [][]float64

// Validate checks that the matrix is n x n.
func (m Matrix) Validate(n int) error {
	if len(m) != n {
		return Configf("matrix has %d rows, want %d", len(m), n)
	}
	for i, row := range m {
		if len(row) != n {
			return Configf("matrix row %d has %d columns, want %d", i, len(row), n)
		}
	}
	return nil
}

// Sub restricts the matrix to idx on both axes.
func (m Matrix) Sub(idx []int) Matrix {
	out := make(Matrix, len(idx))
	for i, r := range idx {
		out[i] = make([]float64, len(idx))
		for j, c := range idx {
			out[i][j] = m[r][c]
		}
	}
	return out
}

// SubVector restricts v to idx.
func SubVector(v []float64, idx []int) []float64 {
	out := make([]float64, len(idx))
	for i, j := range idx {
		out[i] = v[j]
	}
	return out
}
