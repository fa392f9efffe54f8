package remote

import (
	"fmt"

	"github.com/joaooservit/oserv-cloud-storage/backend"
	"github.com/joaooservit/oserv-cloud-storage/backend/graph"
	"github.com/joaooservit/oserv-cloud-storage/backend/s3store"
	"github.com/joaooservit/oserv-cloud-storage/internal"
)

// checkChunking rejects chunk settings the backend's upload protocol would
// refuse mid-transfer. localfs takes any positive size.
func checkChunking(kind backend.BackendType, cfg *internal.AppConfig) error {
	switch kind {
	case backend.GraphBackend:
		if cfg.ChunkSize%graph.RangeAlignment != 0 {
			return fmt.Errorf("chunk_size %d must be a multiple of %d bytes for the graph backend", cfg.ChunkSize, graph.RangeAlignment)
		}
		if cfg.ChunkSize > graph.MaxRangeSize {
			return fmt.Errorf("chunk_size %d exceeds the graph range limit of %d bytes", cfg.ChunkSize, graph.MaxRangeSize)
		}
		if cfg.ChunkThreshold > graph.MaxSimpleUpload {
			return fmt.Errorf("chunk_threshold %d exceeds the graph simple upload limit of %d bytes", cfg.ChunkThreshold, graph.MaxSimpleUpload)
		}
	case backend.S3Backend:
		if cfg.ChunkSize < s3store.MinPartSize || cfg.ChunkSize > s3store.MaxPartSize {
			return fmt.Errorf("chunk_size %d must be between %d and %d bytes for the s3 backend", cfg.ChunkSize, s3store.MinPartSize, int64(s3store.MaxPartSize))
		}
	}
	return nil
}
