package workload

import (
	"fmt"
	"sort"
)

const DefaultPreset = "root"

var presets = map[string]Spec{
	"root": {
		Name:      "root",
		Endpoints: []Endpoint{{Path: "/", Weight: 1}},
	},
	// General stress mix across payload sizes
	"mix": {
		Name: "mix",
		Endpoints: []Endpoint{
			{Path: "/", Weight: 30},
			{Path: "/small", Weight: 25},
			{Path: "/medium", Weight: 20},
			{Path: "/large", Weight: 15},
			{Path: "/huge", Weight: 5},
			{Path: "/json", Weight: 3},
			{Path: "/compute", Weight: 1},
			{Path: "/headers", Weight: 1},
		},
	},
	// Distribution closer to production API traffic
	"realistic": {
		Name: "realistic",
		Endpoints: []Endpoint{
			{Path: "/", Weight: 40},
			{Path: "/json", Weight: 25},
			{Path: "/small", Weight: 15},
			{Path: "/echo/test123", Weight: 10},
			{Path: "/medium", Weight: 5},
			{Path: "/compute", Weight: 3},
			{Path: "/large", Weight: 2},
		},
	},
	// Mostly small requests with occasional mid-size uploads
	"extreme": {
		Name: "extreme",
		Endpoints: []Endpoint{
			{Path: "/", Weight: 20},
			{Path: "/small", Weight: 20},
			{Path: "/medium", Weight: 20},
			{Path: "/large", Weight: 15},
			{Path: "/json", Weight: 15},
			{Path: "/huge", Weight: 10},
		},
		PostPath:  "/echo",
		PostRatio: 0.1,
		BodySizes: []int{1024, 4096, 16384, 65536},
	},
	// Dominated by multi-megabyte downloads
	"heavy": {
		Name: "heavy",
		Endpoints: []Endpoint{
			{Path: "/huge", Weight: 40},
			{Path: "/large", Weight: 30},
			{Path: "/medium", Weight: 20},
			{Path: "/small", Weight: 10},
		},
		PostPath:  "/echo",
		PostRatio: 0.05,
		BodySizes: []int{64 * 1024, 256 * 1024, 512 * 1024},
	},
	// Large uploads to pressure server-side buffering
	"memory": {
		Name: "memory",
		Endpoints: []Endpoint{
			{Path: "/huge", Weight: 2},
			{Path: "/large", Weight: 1},
			{Path: "/medium", Weight: 1},
		},
		PostPath:  "/echo",
		PostRatio: 0.3,
		BodySizes: []int{512 * 1024},
	},
}

// Preset builds the named built-in plan
func Preset(name string) (*Plan, error) {
	spec, ok := presets[name]
	if !ok {
		return nil, fmt.Errorf("unknown workload preset %q (available: %v)", name, PresetNames())
	}
	return NewPlan(spec)
}

// PresetNames lists the built-in presets in alphabetical order
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
