package conditional

import (
	"fmt"
	"math"

	"selinf/domain/core"
	"selinf/internal/weights"
)

// Block is a data slice of the sampler state: a resampling weight vector or a
// Gaussian target. Its prior is applied once, however many views read it.
type Block struct {
	Name    string
	Dim     int
	Weights weights.Law // nil means a flat prior
}

// Binding attaches a view to the block holding its data
type Binding struct {
	View  *View
	Block int
}

// Slice is a half-open index range [Start, End) of the state vector
type Slice struct {
	Start, End int
}

func (s Slice) Len() int { return s.End - s.Start }

// Of returns the sub-slice of v covered by s
func (s Slice) Of(v []float64) []float64 { return v[s.Start:s.End] }

// Layout places every block first, then for each view its active
// coefficients followed by its inactive cube
type Layout struct {
	Blocks   []Slice
	Active   []Slice
	Inactive []Slice
	Dim      int
}

// Opt is the whole optimization slice of view i
func (l Layout) Opt(i int) Slice {
	return Slice{Start: l.Active[i].Start, End: l.Inactive[i].End}
}

// Model is the joint conditional density over blocks and view variables.
// It implements the gradient and projector interfaces of the Langevin sampler.
type Model struct {
	blocks []Block
	views  []*View
	bound  []int
	layout Layout
}

// NewModel checks that every view reads a block of matching dimension and
// lays out the state
func NewModel(blocks []Block, bindings []Binding) (*Model, error) {
	if len(blocks) == 0 {
		return nil, fmt.Errorf("%w: model needs at least one data block", core.ErrInvalidInput)
	}
	m := &Model{blocks: append([]Block(nil), blocks...)}

	offset := 0
	for i, b := range blocks {
		if b.Dim <= 0 {
			return nil, fmt.Errorf("%w: block %q has dimension %d", core.ErrInvalidInput, b.Name, b.Dim)
		}
		if n, ok := b.Weights.(interface{ Dim() int }); ok && n.Dim() != b.Dim {
			return nil, core.NewDimensionError(fmt.Sprintf("block %d prior", i), n.Dim(), b.Dim)
		}
		m.layout.Blocks = append(m.layout.Blocks, Slice{offset, offset + b.Dim})
		offset += b.Dim
	}

	seen := make(map[*View]bool, len(bindings))
	for _, bnd := range bindings {
		v := bnd.View
		if v == nil {
			return nil, fmt.Errorf("%w: nil view", core.ErrInvalidInput)
		}
		if seen[v] {
			return nil, fmt.Errorf("%w: view %q bound twice", core.ErrInvalidInput, v.name)
		}
		seen[v] = true
		if bnd.Block < 0 || bnd.Block >= len(blocks) {
			return nil, fmt.Errorf("%w: view %q bound to unknown block %d", core.ErrInvalidInput, v.name, bnd.Block)
		}
		if v.DataDim() != blocks[bnd.Block].Dim {
			return nil, core.NewDimensionError(fmt.Sprintf("view %q data block", v.name), blocks[bnd.Block].Dim, v.DataDim())
		}
		nE := v.ActiveCount()
		m.layout.Active = append(m.layout.Active, Slice{offset, offset + nE})
		offset += nE
		m.layout.Inactive = append(m.layout.Inactive, Slice{offset, offset + v.OptDim() - nE})
		offset += v.OptDim() - nE
		m.views = append(m.views, v)
		m.bound = append(m.bound, bnd.Block)
	}
	m.layout.Dim = offset
	return m, nil
}

// Layout describes where each block and view lives in the state
func (m *Model) Layout() Layout { return m.layout }

// Dim is the length of the joint state
func (m *Model) Dim() int { return m.layout.Dim }

// Views returns the bound views in layout order
func (m *Model) Views() []*View { return append([]*View(nil), m.views...) }

// Gradient adds the block priors and every view's randomization term into dst
func (m *Model) Gradient(dst, state []float64) error {
	if len(state) != m.layout.Dim {
		return core.NewDimensionError("state", len(state), m.layout.Dim)
	}
	if len(dst) != m.layout.Dim {
		return core.NewDimensionError("gradient", len(dst), m.layout.Dim)
	}
	for i, b := range m.blocks {
		if b.Weights == nil {
			continue
		}
		s := m.layout.Blocks[i]
		if err := b.Weights.Gradient(s.Of(dst), s.Of(state)); err != nil {
			return fmt.Errorf("block %q prior: %w", b.Name, err)
		}
	}
	for i, v := range m.views {
		data := m.layout.Blocks[m.bound[i]]
		opt := m.layout.Opt(i)
		if err := v.Accumulate(data.Of(dst), opt.Of(dst), data.Of(state), opt.Of(state)); err != nil {
			return fmt.Errorf("view %q: %w", v.name, err)
		}
	}
	return nil
}

// Project keeps every block at or above its prior's support floor and every
// view on its selection event
func (m *Model) Project(state []float64) {
	for i, b := range m.blocks {
		if b.Weights == nil {
			continue
		}
		lower := b.Weights.Lower()
		if math.IsInf(lower, -1) {
			continue
		}
		block := m.layout.Blocks[i].Of(state)
		for k, x := range block {
			if x < lower {
				block[k] = lower
			}
		}
	}
	for i, v := range m.views {
		v.Project(m.layout.Opt(i).Of(state))
	}
}

// InitialState concatenates block seeds and the observed optimization
// vectors. A nil seed falls back to the prior's identity seed.
func (m *Model) InitialState(seeds [][]float64) ([]float64, error) {
	if seeds != nil && len(seeds) != len(m.blocks) {
		return nil, core.NewDimensionError("block seeds", len(seeds), len(m.blocks))
	}
	state := make([]float64, m.layout.Dim)
	for i, b := range m.blocks {
		block := m.layout.Blocks[i].Of(state)
		var seed []float64
		if seeds != nil {
			seed = seeds[i]
		}
		switch {
		case seed != nil:
			if len(seed) != b.Dim {
				return nil, core.NewDimensionError(fmt.Sprintf("block %q seed", b.Name), len(seed), b.Dim)
			}
			copy(block, seed)
		case b.Weights != nil:
			b.Weights.Initial(block)
		}
	}
	for i, v := range m.views {
		copy(m.layout.Opt(i).Of(state), v.observed)
	}
	return state, nil
}
