package snapshot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validManifest() Manifest {
	return Manifest{
		Version:       CurrentVersion,
		SnapshotID:    "6d1f2c9a-0f37-4a9e-9a35-2d3e9a14b9a1",
		Sequence:      3,
		CreatedAtUnix: 1724371200,
		Dimension:     768,
		Metric:        "cosine",
		VectorCount:   100,
		ChunkCount:    97,
		Index: BlobInfo{
			Name:        indexBlobName(3),
			Size:        1024,
			Checksum:    0xdeadbeef,
			Compression: "zstd",
		},
		Chunks: BlobInfo{
			Name:        chunksBlobName(3),
			Size:        2048,
			Checksum:    0xcafebabe,
			Compression: "zstd",
			Codec:       "go-json",
		},
	}
}

func TestManifestValidate(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		m := validManifest()
		require.NoError(t, m.Validate())
	})

	tests := []struct {
		name    string
		mutate  func(m *Manifest)
		wantErr string
	}{
		{
			name:    "UnsupportedVersion",
			mutate:  func(m *Manifest) { m.Version = 99 },
			wantErr: "unsupported manifest version",
		},
		{
			name:    "ZeroSequence",
			mutate:  func(m *Manifest) { m.Sequence = 0 },
			wantErr: "sequence",
		},
		{
			name:    "BadDimension",
			mutate:  func(m *Manifest) { m.Dimension = 0 },
			wantErr: "dimension",
		},
		{
			name:    "UnknownMetric",
			mutate:  func(m *Manifest) { m.Metric = "manhattan" },
			wantErr: "metric",
		},
		{
			name:    "MissingBlobName",
			mutate:  func(m *Manifest) { m.Index.Name = "" },
			wantErr: "blob names",
		},
		{
			name:    "BadCompression",
			mutate:  func(m *Manifest) { m.Chunks.Compression = "snappy" },
			wantErr: "compression",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := validManifest()
			tt.mutate(&m)

			err := m.Validate()
			require.Error(t, err)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestBlobNames(t *testing.T) {
	assert.Equal(t, "snapshots/000007.index.bin", indexBlobName(7))
	assert.Equal(t, "snapshots/000007.chunks.bin", chunksBlobName(7))
}
