package graph

import (
	"context"
	"fmt"
)

// TraversalOptions defines options for graph traversal
type TraversalOptions struct {
	MaxDepth  int      `json:"max_depth"`
	EdgeTypes []string `json:"edge_types,omitempty"`
	NodeTypes []string `json:"node_types,omitempty"`
	Direction string   `json:"direction"` // "out", "in", "both"
	Limit     int      `json:"limit"`
}

// Neighbors performs a breadth-first search to find neighboring nodes
func (g *GraphStore) Neighbors(ctx context.Context, nodeID string, opts TraversalOptions) ([]*GraphNode, error) {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = 1
	}
	if opts.Direction == "" {
		opts.Direction = "both"
	}

	visited := make(map[string]bool)
	queue := []struct {
		nodeID string
		depth  int
	}{{nodeID, 0}}

	var neighbors []*GraphNode
	visited[nodeID] = true

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if current.depth >= opts.MaxDepth {
			continue
		}

		// Get edges for current node
		edges, err := g.GetEdges(ctx, current.nodeID, opts.Direction)
		if err != nil {
			return nil, fmt.Errorf("failed to get edges: %w", err)
		}

		for _, edge := range edges {
			// Filter by edge type if specified
			if len(opts.EdgeTypes) > 0 && !contains(opts.EdgeTypes, edge.EdgeType) {
				continue
			}

			// Determine the neighbor node ID
			var neighborID string
			if edge.FromNodeID == current.nodeID {
				neighborID = edge.ToNodeID
			} else {
				neighborID = edge.FromNodeID
			}

			// Skip if already visited
			if visited[neighborID] {
				continue
			}

			// Mark as visited
			visited[neighborID] = true

			// Get the neighbor node
			node, err := g.GetNode(ctx, neighborID)
			if err != nil {
				continue // Skip if node not found
			}

			// Filter by node type if specified
			if len(opts.NodeTypes) > 0 && !contains(opts.NodeTypes, node.NodeType) {
				continue
			}

			neighbors = append(neighbors, node)

			// Add to queue for further traversal
			if current.depth+1 < opts.MaxDepth {
				queue = append(queue, struct {
					nodeID string
					depth  int
				}{neighborID, current.depth + 1})
			}

			// Check limit
			if opts.Limit > 0 && len(neighbors) >= opts.Limit {
				return neighbors, nil
			}
		}
	}

	return neighbors, nil
}

// contains checks if a string slice contains a value
func contains(slice []string, value string) bool {
	for _, v := range slice {
		if v == value {
			return true
		}
	}
	return false
}
