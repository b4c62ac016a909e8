// Package yamlfile loads composite definitions from a YAML document.
//
//	composites:
//	  - system_id: 900
//	    point_index: 1
//	    sources:
//	      - {system_id: 42, point_index: 3, factor: 1}
//	      - {system_id: 43, point_index: 1, factor: -1}
package yamlfile

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	points "telemetry-engine/internal/points/domain"
	subscriptions "telemetry-engine/internal/subscriptions/domain"
	"telemetry-engine/internal/subscriptions/infrastructure/memory"
)

type sourceDoc struct {
	SystemID   int64    `yaml:"system_id"`
	PointIndex int      `yaml:"point_index"`
	Factor     *float64 `yaml:"factor"`
}

type compositeDoc struct {
	SystemID   int64       `yaml:"system_id"`
	PointIndex int         `yaml:"point_index"`
	Sources    []sourceDoc `yaml:"sources"`
}

type document struct {
	Composites []compositeDoc `yaml:"composites"`
}

// Parse decodes a definitions document. A source without factor counts as 1.
func Parse(data []byte) ([]subscriptions.Link, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("composite definitions: %w", err)
	}
	var links []subscriptions.Link
	for _, c := range doc.Composites {
		composite := points.Ref{SystemID: c.SystemID, PointIndex: c.PointIndex}
		for _, src := range c.Sources {
			factor := 1.0
			if src.Factor != nil {
				factor = *src.Factor
			}
			links = append(links, subscriptions.Link{
				Composite: composite,
				Source:    points.Ref{SystemID: src.SystemID, PointIndex: src.PointIndex},
				Factor:    factor,
			})
		}
	}
	return links, nil
}

// Source re-reads the file on every Links call so edits apply on the next build.
type Source struct {
	path string
}

// NewSource constructs a file-backed definition source.
func NewSource(path string) *Source {
	return &Source{path: path}
}

func (s *Source) load() (*memory.Definitions, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	links, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return memory.NewDefinitions(links...), nil
}

// Links returns the file's links, optionally scoped to one composite system.
func (s *Source) Links(ctx context.Context, compositeSystemID *int64) ([]subscriptions.Link, error) {
	defs, err := s.load()
	if err != nil {
		return nil, err
	}
	return defs.Links(ctx, compositeSystemID)
}

// Definition returns the sources of one composite.
func (s *Source) Definition(ctx context.Context, composite points.Ref) (subscriptions.Definition, bool, error) {
	defs, err := s.load()
	if err != nil {
		return subscriptions.Definition{}, false, err
	}
	return defs.Definition(ctx, composite)
}
