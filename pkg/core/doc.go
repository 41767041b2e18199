// Package core provides the storage and retrieval engine underlying memcore's
// tiers: SQLite-backed vector, relational and full-text storage shared by the
// active-context, working-memory and semantic tiers.
//
// It implements vector storage using SQLite as the primary backend, supported by
// specialized in-memory indexes (HNSW, IVF) for high-performance approximate
// nearest neighbor (ANN) search.
//
// # Key Components
//
//   - SQLiteStore: The main entry point for data operations, managing both persistent SQL data and memory indexes.
//   - DimensionAdapter: Automatically handles vector dimension mismatches based on configurable policies.
//   - Search: HNSW/IVF (or linear-scan) vector search, optionally blended with a text-similarity score over stored content. The chunks_fts FTS5 table is kept in sync by triggers but is not queried by Search.
//   - Metadata Filtering: a doc_id filter is added to the SQL query; other metadata keys are matched in Go after the rows are loaded.
//   - ACL: an allowed-users list is stored with each embedding and returned on read; Search does not check it.
//
// # Observability
//
// Since v2.0.0, the core engine supports pluggable structured logging through the Logger interface.
package core
