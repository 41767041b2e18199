package core

// Embedding represents a vector embedding with associated metadata
type Embedding struct {
	ID           string            `json:"id"`
	CollectionID int               `json:"collection_id,omitempty"`
	Collection   string            `json:"collection,omitempty"`
	Vector       []float32         `json:"vector"`
	Content      string            `json:"content"`
	DocID        string            `json:"docId,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	ACL          []string          `json:"acl,omitempty"` // Allowed user IDs or groups
}

// ScoredEmbedding represents an embedding with similarity score
type ScoredEmbedding struct {
	Embedding
	Score float64 `json:"score"`
}

// SearchOptions defines options for vector search
type SearchOptions struct {
	Collection string            `json:"collection,omitempty"` // Collection name to search in
	TopK       int               `json:"topK"`
	Filter     map[string]string `json:"filter,omitempty"`
	Threshold  float64           `json:"threshold,omitempty"`
	QueryText  string            `json:"queryText,omitempty"`  // Optional query text for enhanced matching
	TextWeight float64           `json:"textWeight,omitempty"` // Weight for text similarity (0.0-1.0, default 0.3)
}

// StoreStats provides statistics about the vector store
type StoreStats struct {
	Count      int64 `json:"count"`
	Dimensions int   `json:"dimensions"`
	Size       int64 `json:"size"`
}

// DocumentInfo provides information about a document in the store
type DocumentInfo struct {
	DocID          string  `json:"docId"`
	EmbeddingCount int     `json:"embeddingCount"`
	FirstCreated   *string `json:"firstCreated,omitempty"`
	LastUpdated    *string `json:"lastUpdated,omitempty"`
}

// HNSWConfig represents configuration options for HNSW indexing
type HNSWConfig struct {
	Enabled        bool `json:"enabled"`
	M              int  `json:"m"`              // Maximum connections per node (default: 16)
	EfConstruction int  `json:"efConstruction"` // Candidates during construction (default: 200)
	EfSearch       int  `json:"efSearch"`       // Candidates during search (default: 50)
}

// DefaultHNSWConfig returns default HNSW configuration
func DefaultHNSWConfig() HNSWConfig {
	return HNSWConfig{
		Enabled:        false,
		M:              16,
		EfConstruction: 200,
		EfSearch:       50,
	}
}

// IVFConfig represents configuration options for IVF indexing
type IVFConfig struct {
	Enabled    bool `json:"enabled"`
	NCentroids int  `json:"nCentroids"` // Number of centroids (default: 100)
	NProbe     int  `json:"nProbe"`     // Number of clusters to search (default: 10)
}

// DefaultIVFConfig returns default IVF configuration
func DefaultIVFConfig() IVFConfig {
	return IVFConfig{
		Enabled:    false,
		NCentroids: 100,
		NProbe:     10,
	}
}

// TextSimilarityConfig represents configuration for text-based similarity
type TextSimilarityConfig struct {
	Enabled       bool    `json:"enabled"`       // Enable text similarity matching
	DefaultWeight float64 `json:"defaultWeight"` // Default weight for text similarity (0.0-1.0)
}

// DefaultTextSimilarityConfig returns default text similarity configuration
func DefaultTextSimilarityConfig() TextSimilarityConfig {
	return TextSimilarityConfig{
		Enabled:       true, // Enabled by default
		DefaultWeight: 0.3,  // 30% text similarity, 70% vector similarity
	}
}

// TextSimilarity scores lexical similarity between a query string and a
// candidate's content, blended with vector similarity per TextSimilarityConfig.
// SQLiteStore.textSimilarity is left nil (no implementation wired) unless a
// caller sets one; nil is checked before use in hybrid search scoring.
type TextSimilarity interface {
	CalculateSimilarity(query, content string) float64
}

// QuantizationConfig represents configuration for vector quantization
type QuantizationConfig struct {
	Enabled bool   `json:"enabled"` // Enable quantization
	Type    string `json:"type"`    // "scalar" (SQ8) or "binary" (BQ)
	NBits   int    `json:"nBits"`   // Bits per component (default 8 for SQ8)
}

// DefaultQuantizationConfig returns default quantization configuration
func DefaultQuantizationConfig() QuantizationConfig {
	return QuantizationConfig{
		Enabled: false,
		Type:    "scalar",
		NBits:   8,
	}
}

// AdaptPolicy defines how to handle vector dimension mismatches
type AdaptPolicy int

const (
	StrictMode   AdaptPolicy = iota // Error on dimension mismatch
	SmartAdapt                      // Intelligent adaptation based on data distribution (default)
	AutoTruncate                    // Always truncate to smaller dimension
	AutoPad                         // Always pad to larger dimension
	WarnOnly                        // Only warn, don't auto-adapt
)

// IndexType defines the type of index to use
type IndexType int

const (
	IndexTypeHNSW IndexType = iota
	IndexTypeIVF
	IndexTypeFlat
)

// Config represents configuration options for the vector store
type Config struct {
	Path           string               `json:"path"`                    // Database file path
	VectorDim      int                  `json:"vectorDim"`               // Expected vector dimension, 0 = auto-detect
	AutoDimAdapt   AdaptPolicy          `json:"autoDimAdapt"`            // How to handle dimension mismatches
	SimilarityFn   SimilarityFunc       `json:"-"`                       // Similarity function
	IndexType      IndexType            `json:"indexType"`               // Index type to use
	HNSW           HNSWConfig           `json:"hnsw,omitempty"`          // HNSW index configuration
	IVF            IVFConfig            `json:"ivf,omitempty"`           // IVF index configuration
	TextSimilarity TextSimilarityConfig `json:"textSimilarity,omitempty"` // Text similarity configuration
	Quantization   QuantizationConfig   `json:"quantization,omitempty"`   // Quantization configuration
	Logger         Logger               `json:"-"`                       // Logger instance (defaults to nop logger)
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		VectorDim:      0,                              // Auto-detect dimension
		AutoDimAdapt:   SmartAdapt,                     // Adapt mismatched dimensions by default
		SimilarityFn:   CosineSimilarity,               // Cosine similarity
		IndexType:      IndexTypeHNSW,                  // Default to HNSW
		HNSW:           DefaultHNSWConfig(),            // HNSW configuration
		IVF:            DefaultIVFConfig(),             // IVF configuration
		TextSimilarity: DefaultTextSimilarityConfig(),  // Text similarity configuration
		Quantization:   DefaultQuantizationConfig(),    // Quantization configuration
	}
}

