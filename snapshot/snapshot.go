package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"strings"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/taskhive/vecrag/blobstore"
	"github.com/taskhive/vecrag/chunkstore"
	"github.com/taskhive/vecrag/codec"
	"github.com/taskhive/vecrag/index"
	"github.com/taskhive/vecrag/metric"
)

// SaveOptions contains options for writing a snapshot.
type SaveOptions struct {
	// Compression selects the blob body compression.
	Compression CompressionType

	// Codec serializes the chunk records blob.
	Codec codec.Codec
}

// DefaultSaveOptions contains the default snapshot write configuration.
var DefaultSaveOptions = SaveOptions{
	Compression: CompressionZSTD,
	Codec:       codec.Default,
}

// Save writes the index and chunk records as a sequence-numbered blob
// pair and then publishes them by replacing the manifest. The manifest
// write is the commit point: a reader either observes the previous
// snapshot or this one, never a mix.
func Save(ctx context.Context, store blobstore.Store, idx *index.Flat, chunks *chunkstore.Store, seq uint64, optFns ...func(o *SaveOptions)) (*Manifest, error) {
	opts := DefaultSaveOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	var buf bytes.Buffer
	if _, err := idx.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("serialize index: %w", err)
	}

	indexBlob, err := EncodeBlob(buf.Bytes(), opts.Compression)
	if err != nil {
		return nil, fmt.Errorf("encode index blob: %w", err)
	}

	chunksPayload, err := opts.Codec.Marshal(chunks.ToMap())
	if err != nil {
		return nil, fmt.Errorf("serialize chunk records: %w", err)
	}

	chunksBlob, err := EncodeBlob(chunksPayload, opts.Compression)
	if err != nil {
		return nil, fmt.Errorf("encode chunks blob: %w", err)
	}

	m := &Manifest{
		Version:       CurrentVersion,
		SnapshotID:    uuid.NewString(),
		Sequence:      seq,
		CreatedAtUnix: time.Now().Unix(),
		Dimension:     idx.Dimension(),
		Metric:        idx.Metric().String(),
		VectorCount:   idx.Size(),
		ChunkCount:    chunks.Len(),
		Index: BlobInfo{
			Name:        indexBlobName(seq),
			Size:        int64(len(indexBlob)),
			Checksum:    crc32.ChecksumIEEE(indexBlob),
			Compression: blobCompression(indexBlob).String(),
		},
		Chunks: BlobInfo{
			Name:        chunksBlobName(seq),
			Size:        int64(len(chunksBlob)),
			Checksum:    crc32.ChecksumIEEE(chunksBlob),
			Compression: blobCompression(chunksBlob).String(),
			Codec:       opts.Codec.Name(),
		},
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := store.Put(gctx, m.Index.Name, indexBlob); err != nil {
			return fmt.Errorf("write index blob: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		if err := store.Put(gctx, m.Chunks.Name, chunksBlob); err != nil {
			return fmt.Errorf("write chunks blob: %w", err)
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	data, err := gojson.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("serialize manifest: %w", err)
	}

	if err := store.Put(ctx, ManifestName, data); err != nil {
		return nil, fmt.Errorf("publish manifest: %w", err)
	}

	return m, nil
}

// ReadManifest reads and validates the published manifest without
// fetching blob contents. The raw manifest bytes are returned alongside
// so callers can mirror the exact published object to another store.
// It returns blobstore.ErrNotFound when no manifest has been published.
func ReadManifest(ctx context.Context, store blobstore.Store) (*Manifest, []byte, error) {
	data, err := store.Get(ctx, ManifestName)
	if err != nil {
		return nil, nil, err
	}

	var m Manifest
	if err := gojson.Unmarshal(data, &m); err != nil {
		return nil, nil, fmt.Errorf("parse manifest: %w", err)
	}

	if err := m.Validate(); err != nil {
		return nil, nil, err
	}

	return &m, data, nil
}

// Load reads the published snapshot from the store. It returns
// blobstore.ErrNotFound when no manifest has ever been published.
func Load(ctx context.Context, store blobstore.Store) (*index.Flat, *chunkstore.Store, *Manifest, error) {
	m, _, err := ReadManifest(ctx, store)
	if err != nil {
		return nil, nil, nil, err
	}

	var indexBlob, chunksBlob []byte

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		indexBlob, err = FetchBlob(gctx, store, m.Index)

		return err
	})

	g.Go(func() error {
		var err error
		chunksBlob, err = FetchBlob(gctx, store, m.Chunks)

		return err
	})

	if err := g.Wait(); err != nil {
		return nil, nil, nil, err
	}

	indexPayload, err := DecodeBlob(indexBlob)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("decode blob %s: %w", m.Index.Name, err)
	}

	idx, err := index.NewFromReader(bytes.NewReader(indexPayload))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("restore index: %w", err)
	}

	chunksPayload, err := DecodeBlob(chunksBlob)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("decode blob %s: %w", m.Chunks.Name, err)
	}

	c, ok := codec.ByName(m.Chunks.Codec)
	if !ok {
		c = codec.Default
	}

	var records map[uint32]chunkstore.Chunk
	if err := c.Unmarshal(chunksPayload, &records); err != nil {
		return nil, nil, nil, fmt.Errorf("restore chunk records: %w", err)
	}

	if err := verifyLoaded(m, idx, len(records)); err != nil {
		return nil, nil, nil, err
	}

	return idx, chunkstore.NewFromMap(records), m, nil
}

// FetchBlob reads a blob and checks it against the manifest entry before
// any decoding happens.
func FetchBlob(ctx context.Context, store blobstore.Store, info BlobInfo) ([]byte, error) {
	blob, err := store.Get(ctx, info.Name)
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", info.Name, err)
	}

	if int64(len(blob)) != info.Size {
		return nil, fmt.Errorf("blob %s size mismatch: manifest %d, stored %d", info.Name, info.Size, len(blob))
	}

	if actual := crc32.ChecksumIEEE(blob); actual != info.Checksum {
		return nil, fmt.Errorf("blob %s: %w", info.Name, &ChecksumMismatchError{Expected: info.Checksum, Actual: actual})
	}

	return blob, nil
}

// verifyLoaded cross-checks the decoded state against the manifest.
func verifyLoaded(m *Manifest, idx *index.Flat, chunkCount int) error {
	if idx.Dimension() != m.Dimension {
		return fmt.Errorf("snapshot dimension mismatch: manifest %d, index %d", m.Dimension, idx.Dimension())
	}

	if idx.Size() != m.VectorCount {
		return fmt.Errorf("snapshot vector count mismatch: manifest %d, index %d", m.VectorCount, idx.Size())
	}

	if chunkCount != m.ChunkCount {
		return fmt.Errorf("snapshot chunk count mismatch: manifest %d, records %d", m.ChunkCount, chunkCount)
	}

	wantMetric, err := metric.Parse(m.Metric)
	if err != nil {
		return err
	}

	if idx.Metric() != wantMetric {
		return fmt.Errorf("snapshot metric mismatch: manifest %s, index %s", wantMetric, idx.Metric())
	}

	return nil
}

// Prune deletes snapshot blobs that do not belong to the given sequence.
// It is safe to call after a successful save; failures only leave
// garbage behind, never break the published snapshot.
func Prune(ctx context.Context, store blobstore.Store, keep uint64) error {
	names, err := store.List(ctx, snapshotPrefix)
	if err != nil {
		return err
	}

	keepPrefix := fmt.Sprintf("%s%06d.", snapshotPrefix, keep)

	var errs []error

	for _, name := range names {
		if strings.HasPrefix(name, keepPrefix) {
			continue
		}

		if err := store.Delete(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", name, err))
		}
	}

	return errors.Join(errs...)
}
