package graph

import (
	"context"
	"fmt"
	"math"
	"sort"
)

// PageRankResult represents the PageRank score for a node
type PageRankResult struct {
	NodeID string  `json:"node_id"`
	Score  float64 `json:"score"`
}

// PageRank calculates PageRank scores for all nodes in the graph
// Optimized to load only topology (IDs and Edges) instead of full node objects.
func (g *GraphStore) PageRank(ctx context.Context, iterations int, dampingFactor float64) ([]PageRankResult, error) {
	if iterations <= 0 {
		iterations = 100
	}
	if dampingFactor <= 0 || dampingFactor > 1 {
		dampingFactor = 0.85
	}

	// 1. Load Topology (IDs)
	rows, err := g.db.QueryContext(ctx, "SELECT id FROM graph_nodes")
	if err != nil {
		return nil, fmt.Errorf("query nodes: %w", err)
	}

	var nodes []string
	nodeToIndex := make(map[string]int)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		nodeToIndex[id] = len(nodes)
		nodes = append(nodes, id)
	}
	rows.Close()

	if len(nodes) == 0 {
		return []PageRankResult{}, nil
	}

	// 2. Load Topology (Edges)
	edgeRows, err := g.db.QueryContext(ctx, "SELECT from_node_id, to_node_id FROM graph_edges")
	if err != nil {
		return nil, fmt.Errorf("query edges: %w", err)
	}

	outDegree := make([]int, len(nodes))
	inLinks := make([][]int, len(nodes))

	for edgeRows.Next() {
		var from, to string
		if err := edgeRows.Scan(&from, &to); err != nil {
			edgeRows.Close()
			return nil, err
		}

		u, ok1 := nodeToIndex[from]
		v, ok2 := nodeToIndex[to]
		if ok1 && ok2 {
			outDegree[u]++
			inLinks[v] = append(inLinks[v], u)
		}
	}
	edgeRows.Close()

	// 3. Compute PageRank
	nodeCount := float64(len(nodes))
	scores := make([]float64, len(nodes))
	newScores := make([]float64, len(nodes))
	initialScore := 1.0 / nodeCount

	for i := range scores {
		scores[i] = initialScore
	}

	for iter := 0; iter < iterations; iter++ {
		maxDiff := 0.0

		for i := 0; i < len(nodes); i++ {
			rank := (1.0 - dampingFactor) / nodeCount

			// Sum contributions from incoming links
			for _, inIdx := range inLinks[i] {
				outDeg := outDegree[inIdx]
				if outDeg > 0 {
					rank += dampingFactor * scores[inIdx] / float64(outDeg)
				}
			}

			newScores[i] = rank
			diff := math.Abs(newScores[i] - scores[i])
			if diff > maxDiff {
				maxDiff = diff
			}
		}

		copy(scores, newScores)
		if maxDiff < 1e-6 {
			break
		}
	}

	// 4. Convert to results
	results := make([]PageRankResult, len(nodes))
	for i, id := range nodes {
		results[i] = PageRankResult{
			NodeID: id,
			Score:  scores[i],
		}
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	return results, nil
}
