package domain

// RetrievedChunk is produced by the external chunking/indexing pipeline and
// read-only to this core.
type RetrievedChunk struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Filename   string  `json:"filename"`
	Text       string  `json:"text"`
	Section    string  `json:"section,omitempty"`
	Page       int     `json:"page,omitempty"`
	ChunkType  string  `json:"chunk_type,omitempty"`
	DomainTag  string  `json:"domain_tag,omitempty"`
	Score      float64 `json:"score"`
}

// BoostRecord keeps the reranker explainable: one entry per applied boost.
type BoostRecord struct {
	Stage      string  `json:"stage"`
	Multiplier float64 `json:"multiplier"`
}

// ScoredResult wraps a chunk with the fused ranking signals. FusedScore is
// rank-derived (RRF); LexicalScore and VectorScore keep the raw backend
// values for diagnostics and are zero, never unset, when the chunk was
// absent from that backend's result set.
type ScoredResult struct {
	Chunk        RetrievedChunk `json:"chunk"`
	LexicalScore float64        `json:"lexical_score"`
	VectorScore  float64        `json:"vector_score"`
	FusedScore   float64        `json:"fused_score"`
	Confidence   float64        `json:"confidence"`
	Boosts       []BoostRecord  `json:"boosts,omitempty"`
}

// DocumentInfo is read from the metadata store for result enrichment.
type DocumentInfo struct {
	ID     string   `json:"id"`
	Title  string   `json:"title"`
	Folder string   `json:"folder,omitempty"`
	Tags   []string `json:"tags,omitempty"`
}
