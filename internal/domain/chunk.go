package domain

// DocumentChunk is the unit of embedding and retrieval. Chunks exist in memory
// during ingestion and are persisted as vector-store points; they are never
// mutated after creation.
type DocumentChunk struct {
	// ID is derived as "{documentID}_{chunkIndex}" and is unique per document.
	ID            string
	Text          string
	ChunkIndex    int
	StartOffset   int
	EndOffset     int
	DocumentID    string
	DocumentTitle string
	UserID        string
	// TotalChunks is the number of chunks emitted for the owning document.
	TotalChunks int
}

// RetrievedChunk is a chunk returned from similarity search together with its
// relevance score, ordered score-descending.
type RetrievedChunk struct {
	ID         string  `json:"id"`
	Text       string  `json:"text"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float64 `json:"score"`
}
