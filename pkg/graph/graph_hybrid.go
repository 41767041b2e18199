package graph

import (
	"github.com/agentmem/memcore/internal/encoding"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// GetAllNodes retrieves all nodes with optional filtering
func (g *GraphStore) GetAllNodes(ctx context.Context, filter *GraphFilter) ([]*GraphNode, error) {
	query := `SELECT id, vector, content, node_type, properties, created_at, updated_at FROM graph_nodes`
	args := []interface{}{}

	if filter != nil && len(filter.NodeTypes) > 0 {
		query += ` WHERE node_type IN (`
		for i := range filter.NodeTypes {
			if i > 0 {
				query += `,`
			}
			query += `?`
			args = append(args, filter.NodeTypes[i])
		}
		query += `)`
	}

	rows, err := g.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []*GraphNode
	for rows.Next() {
		var node GraphNode
		var vectorBytes []byte
		var propertiesJSON sql.NullString

		err := rows.Scan(
			&node.ID,
			&vectorBytes,
			&node.Content,
			&node.NodeType,
			&propertiesJSON,
			&node.CreatedAt,
			&node.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}

		// Decode vector
		node.Vector, err = encoding.DecodeVector(vectorBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to decode vector: %w", err)
		}

		// Decode properties
		if propertiesJSON.Valid && propertiesJSON.String != "" {
			err = json.Unmarshal([]byte(propertiesJSON.String), &node.Properties)
			if err != nil {
				return nil, fmt.Errorf("failed to decode properties: %w", err)
			}
		}

		nodes = append(nodes, &node)
	}

	return nodes, rows.Err()
}
