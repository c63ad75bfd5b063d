// Package workload turns weighted endpoint tables into request tasks.
package workload

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/studiowebux/surge/internal/types"
)

// Endpoint is a path and its relative selection weight
type Endpoint struct {
	Path   string `json:"path" yaml:"path"`
	Weight int    `json:"weight" yaml:"weight"`
}

// Spec is the serializable form of a plan, as found in workload files
type Spec struct {
	Name      string     `json:"name,omitempty" yaml:"name,omitempty"`
	Endpoints []Endpoint `json:"endpoints" yaml:"endpoints"`

	// PostPath receives POST requests; PostRatio is the chance a task is a POST
	PostPath  string  `json:"postPath,omitempty" yaml:"postPath,omitempty"`
	PostRatio float64 `json:"postRatio,omitempty" yaml:"postRatio,omitempty"`

	// BodySizes lists the POST body sizes in bytes, drawn uniformly
	BodySizes []int `json:"bodySizes,omitempty" yaml:"bodySizes,omitempty"`
}

// Plan draws tasks from a Spec. It is read-only after construction and safe
// for concurrent use as long as each goroutine brings its own *rand.Rand.
type Plan struct {
	spec       Spec
	cumulative []int
	total      int
	bodies     [][]byte
}

// Validate checks that a spec can be turned into a plan
func (s *Spec) Validate() error {
	if len(s.Endpoints) == 0 {
		return errors.New("workload needs at least one endpoint")
	}
	for _, ep := range s.Endpoints {
		if ep.Path == "" || ep.Path[0] != '/' {
			return fmt.Errorf("endpoint path %q must start with /", ep.Path)
		}
		if ep.Weight <= 0 {
			return fmt.Errorf("endpoint %s: weight must be greater than 0", ep.Path)
		}
	}
	if s.PostRatio < 0 || s.PostRatio > 1 {
		return fmt.Errorf("post ratio must be between 0 and 1, got %g", s.PostRatio)
	}
	if s.PostRatio > 0 {
		if s.PostPath == "" || s.PostPath[0] != '/' {
			return fmt.Errorf("post path %q must start with /", s.PostPath)
		}
		if len(s.BodySizes) == 0 {
			return errors.New("post ratio set but no body sizes given")
		}
	}
	for _, size := range s.BodySizes {
		if size < 0 {
			return fmt.Errorf("body size cannot be negative: %d", size)
		}
	}
	return nil
}

// NewPlan validates spec and precomputes the cumulative weight table and the
// shared POST bodies.
func NewPlan(spec Spec) (*Plan, error) {
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid workload: %w", err)
	}

	p := &Plan{spec: spec}
	for _, ep := range spec.Endpoints {
		p.total += ep.Weight
		p.cumulative = append(p.cumulative, p.total)
	}
	if spec.PostRatio > 0 {
		for _, size := range spec.BodySizes {
			p.bodies = append(p.bodies, bytes.Repeat([]byte{'X'}, size))
		}
	}
	return p, nil
}

// Load reads a YAML workload file
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workload file: %w", err)
	}

	var spec Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("failed to parse workload file %s: %w", path, err)
	}
	if spec.Name == "" {
		spec.Name = path
	}
	return NewPlan(spec)
}

// Spec returns the spec the plan was built from
func (p *Plan) Spec() Spec {
	return p.spec
}

// Name returns the workload name
func (p *Plan) Name() string {
	return p.spec.Name
}

// LargePayload reports whether the plan moves bodies big enough to warrant
// large read chunks and socket buffers.
func (p *Plan) LargePayload() bool {
	for _, size := range p.spec.BodySizes {
		if size >= 64*1024 {
			return true
		}
	}
	return false
}

// Next draws one task
func (p *Plan) Next(rng *rand.Rand) types.Task {
	if len(p.bodies) > 0 && rng.Float64() < p.spec.PostRatio {
		return types.Task{
			Endpoint: p.spec.PostPath,
			Body:     p.bodies[rng.IntN(len(p.bodies))],
		}
	}
	return types.Task{Endpoint: p.pick(rng)}
}

func (p *Plan) pick(rng *rand.Rand) string {
	if len(p.cumulative) == 1 {
		return p.spec.Endpoints[0].Path
	}
	r := rng.IntN(p.total)
	i := sort.SearchInts(p.cumulative, r+1)
	return p.spec.Endpoints[i].Path
}

// Pusher receives generated tasks
type Pusher interface {
	Push(task types.Task)
}

// Fill pushes n tasks drawn from the plan
func (p *Plan) Fill(dst Pusher, n int, rng *rand.Rand) {
	for i := 0; i < n; i++ {
		dst.Push(p.Next(rng))
	}
}

// NewRand returns a generator seeded from the runtime source
func NewRand() *rand.Rand {
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}
