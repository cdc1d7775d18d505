package snapshot

import (
	"fmt"

	"github.com/taskhive/vecrag/metric"
)

const (
	// ManifestName is the blob name under which the current manifest is
	// published. Replacing it is the atomic commit point of a save.
	ManifestName = "MANIFEST.json"

	// CurrentVersion is the manifest format version written by this
	// package.
	CurrentVersion = 1

	snapshotPrefix = "snapshots/"
)

// BlobInfo describes one snapshot blob as published by the manifest.
type BlobInfo struct {
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	Checksum    uint32 `json:"checksum"` // CRC32 (IEEE) of the entire blob
	Compression string `json:"compression"`
	Codec       string `json:"codec,omitempty"`
}

// Manifest describes one complete snapshot: which blobs belong to it and
// the index shape they encode. The manifest is written last, so readers
// that observe it always find fully written blobs.
type Manifest struct {
	Version       int      `json:"version"`
	SnapshotID    string   `json:"snapshot_id"`
	Sequence      uint64   `json:"sequence"`
	CreatedAtUnix int64    `json:"created_at_unix"`
	Dimension     int      `json:"dimension"`
	Metric        string   `json:"metric"`
	VectorCount   int      `json:"vector_count"`
	ChunkCount    int      `json:"chunk_count"`
	Index         BlobInfo `json:"index"`
	Chunks        BlobInfo `json:"chunks"`
}

// Validate checks structural manifest invariants.
func (m *Manifest) Validate() error {
	if m.Version != CurrentVersion {
		return fmt.Errorf("unsupported manifest version: %d (expected %d)", m.Version, CurrentVersion)
	}

	if m.Sequence == 0 {
		return fmt.Errorf("invalid manifest: sequence must be >= 1")
	}

	if m.Dimension <= 0 {
		return fmt.Errorf("invalid manifest: dimension %d", m.Dimension)
	}

	if _, err := metric.Parse(m.Metric); err != nil {
		return fmt.Errorf("invalid manifest: %w", err)
	}

	if m.Index.Name == "" || m.Chunks.Name == "" {
		return fmt.Errorf("invalid manifest: missing blob names")
	}

	for _, b := range []BlobInfo{m.Index, m.Chunks} {
		if _, err := ParseCompression(b.Compression); err != nil {
			return fmt.Errorf("invalid manifest: %w", err)
		}
	}

	return nil
}

func indexBlobName(seq uint64) string {
	return fmt.Sprintf("%s%06d.index.bin", snapshotPrefix, seq)
}

func chunksBlobName(seq uint64) string {
	return fmt.Sprintf("%s%06d.chunks.bin", snapshotPrefix, seq)
}
