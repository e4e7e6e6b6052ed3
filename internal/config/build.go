package config

import (
	"errors"
	"fmt"

	"github.com/vk/framegraph/internal/dag"
	"github.com/vk/framegraph/internal/node"
)

// Build creates a graph from m. Nodes receive handles in declaration order and
// every depends_on entry becomes an edge from the named node. Unknown kinds,
// duplicate names and unknown or self references are all reported together.
//
// Dependencies may name nodes declared later, so cycles are possible; they are
// reported when the graph is first ordered.
func Build(m *Model) (*dag.Graph, map[string]dag.Handle, error) {
	if m == nil {
		return nil, nil, errors.New("config model is nil")
	}

	g := dag.New()
	handles := make(map[string]dag.Handle, len(m.Nodes))
	var errs []error

	for _, decl := range m.Nodes {
		kind, err := node.ParseKind(decl.Kind)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", decl.Source, err))
			continue
		}
		if _, dup := handles[decl.Name]; dup {
			errs = append(errs, fmt.Errorf("%s: duplicate node name %q", decl.Source, decl.Name))
			continue
		}

		n := node.Node{Kind: kind, Name: decl.Name}
		if kind == node.Draw {
			n.ClearColor = node.DefaultClearColor
			if decl.ClearColor != nil {
				n.ClearColor = *decl.ClearColor
			}
		} else if decl.ClearColor != nil {
			errs = append(errs, fmt.Errorf("%s: clear_color is only valid on draw nodes", decl.Source))
			continue
		}

		h, err := g.AddNode(n)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", decl.Source, err))
			continue
		}
		handles[decl.Name] = h
	}

	for _, decl := range m.Nodes {
		to, ok := handles[decl.Name]
		if !ok {
			continue
		}
		for _, dep := range decl.DependsOn {
			from, ok := handles[dep]
			if !ok {
				errs = append(errs, fmt.Errorf("%s: node %q depends on unknown node %q: %w", decl.Source, decl.Name, dep, dag.ErrInvalidDependency))
				continue
			}
			if err := g.AddEdge(from, to); err != nil {
				errs = append(errs, fmt.Errorf("%s: node %q: %w", decl.Source, decl.Name, err))
			}
		}
	}

	if len(errs) > 0 {
		return nil, nil, errors.Join(errs...)
	}
	return g, handles, nil
}
