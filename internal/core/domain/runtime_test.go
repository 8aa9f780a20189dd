package domain

import "testing"

func TestCapabilities(t *testing.T) {
	tests := []struct {
		name     string
		caps     Capabilities
		semantic bool
		async    bool
	}{
		{"bare", Capabilities{StorageBackend: "local"}, false, false},
		{"queue only", Capabilities{StorageBackend: "local", QueueBackend: "postgres"}, false, true},
		{"full", Capabilities{StorageBackend: "minio", QueueBackend: "redis", EmbeddingModel: "text-embedding-3-small", Dimensions: 1536}, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.caps.SemanticSearch(); got != tt.semantic {
				t.Errorf("SemanticSearch() = %v, want %v", got, tt.semantic)
			}
			if got := tt.caps.AsyncIngestion(); got != tt.async {
				t.Errorf("AsyncIngestion() = %v, want %v", got, tt.async)
			}
		})
	}
}
