package domain

// Capabilities is a snapshot of what this process can serve. Backends are
// fixed at startup; the embedding fields follow the current provider.
type Capabilities struct {
	StorageBackend string `json:"storage_backend"`          // "local" or "minio"
	QueueBackend   string `json:"queue_backend,omitempty"`  // "redis", "postgres" or empty
	EmbeddingModel string `json:"embedding_model,omitempty"` // empty without a provider
	Dimensions     int    `json:"dimensions,omitempty"`
}

// SemanticSearch reports whether query embeddings can be produced
func (c Capabilities) SemanticSearch() bool {
	return c.EmbeddingModel != ""
}

// AsyncIngestion reports whether uploads can be handed to a worker
func (c Capabilities) AsyncIngestion() bool {
	return c.QueueBackend != ""
}
