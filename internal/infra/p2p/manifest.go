// Package p2p implements BitTorrent-style distribution of task content over
// libp2p.
//
// How it works:
//  1. A task directory is packed into a tar archive
//  2. The archive is split into fixed-size chunks, each with a SHA-256 digest
//  3. A ContentManifest lists all chunks and is signed with Ed25519
//  4. The manifest body is hashed into a CIDv1, the content id
//  5. The content id is announced on GossipSub and provided on the DHT
//  6. Fetchers download the manifest and chunks from any seeder and verify both
package p2p

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"

	"github.com/torrentnode/torrentnode/internal/domain"
)

// ─── Constants ──────────────────────────────────────────────────────────────

const (
	DefaultChunkSize = 256 * 1024      // 256 KB per chunk
	MaxChunkSize     = 4 * 1024 * 1024 // 4 MB max
	MinChunkSize     = 1024            // 1 KB min

	// MaxContentSize bounds a whole published archive.
	MaxContentSize = 64 * 1024 * 1024
)

// ─── Chunk Types ────────────────────────────────────────────────────────────

// ChunkDigest is a SHA-256 hex digest of a single chunk.
type ChunkDigest string

// ChunkInfo describes a single chunk of a content archive.
type ChunkInfo struct {
	Index  int         `json:"index"`  // 0-based chunk position
	Offset int64       `json:"offset"` // Byte offset in the archive
	Size   int         `json:"size"`   // Chunk size in bytes
	Digest ChunkDigest `json:"digest"` // SHA-256 hex of chunk data
}

// ContentManifest describes a published archive split into chunks.
// The manifest is signed with the publisher's Ed25519 key.
type ContentManifest struct {
	Name         string      `json:"name"`
	Digest       string      `json:"digest"`     // SHA-256 of the whole archive
	TotalSize    int64       `json:"total_size"` // Archive size in bytes
	ChunkSize    int         `json:"chunk_size"` // Uniform chunk size (last may be smaller)
	Chunks       []ChunkInfo `json:"chunks"`
	PublisherKey string      `json:"publisher_key"` // Ed25519 public key hex
	Signature    string      `json:"signature"`     // Ed25519 signature of the manifest body
	CreatedAt    time.Time   `json:"created_at"`
}

// ChunkCount returns the number of chunks.
func (m *ContentManifest) ChunkCount() int {
	return len(m.Chunks)
}

// Validate checks manifest structure: chunk ordering, offsets and sizes.
func (m *ContentManifest) Validate() error {
	if len(m.Chunks) == 0 {
		return fmt.Errorf("%w: manifest has no chunks", domain.ErrManifestInvalid)
	}
	if m.ChunkSize < MinChunkSize || m.ChunkSize > MaxChunkSize {
		return fmt.Errorf("%w: chunk size %d out of range", domain.ErrManifestInvalid, m.ChunkSize)
	}
	if m.TotalSize <= 0 || m.TotalSize > MaxContentSize {
		return fmt.Errorf("%w: total size %d out of range", domain.ErrManifestInvalid, m.TotalSize)
	}

	var totalSize int64
	for i, c := range m.Chunks {
		if c.Index != i {
			return fmt.Errorf("%w: chunk %d has wrong index %d", domain.ErrManifestInvalid, i, c.Index)
		}
		if c.Offset != totalSize {
			return fmt.Errorf("%w: chunk %d has offset %d, want %d", domain.ErrManifestInvalid, i, c.Offset, totalSize)
		}
		if c.Size <= 0 || c.Size > m.ChunkSize {
			return fmt.Errorf("%w: chunk %d has invalid size %d", domain.ErrManifestInvalid, i, c.Size)
		}
		if len(c.Digest) != sha256.Size*2 {
			return fmt.Errorf("%w: chunk %d has malformed digest", domain.ErrManifestInvalid, i)
		}
		totalSize += int64(c.Size)
	}

	if totalSize != m.TotalSize {
		return fmt.Errorf("%w: chunk sizes sum to %d but total_size is %d",
			domain.ErrManifestInvalid, totalSize, m.TotalSize)
	}
	return nil
}

// VerifySignature checks the publisher's Ed25519 signature. Unsigned
// manifests are rejected: everything on the wire must be attributable.
func (m *ContentManifest) VerifySignature() error {
	pubBytes, err := hex.DecodeString(m.PublisherKey)
	if err != nil || len(pubBytes) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: invalid publisher key", domain.ErrManifestInvalid)
	}
	sigBytes, err := hex.DecodeString(m.Signature)
	if err != nil || len(sigBytes) != ed25519.SignatureSize {
		return fmt.Errorf("%w: invalid signature encoding", domain.ErrManifestInvalid)
	}
	if !ed25519.Verify(ed25519.PublicKey(pubBytes), m.canonicalBody(), sigBytes) {
		return domain.ErrManifestInvalid
	}
	return nil
}

// canonicalBody builds the signable representation of the manifest. The
// content id is derived from the same bytes, so it binds the publisher too.
func (m *ContentManifest) canonicalBody() []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%s:%s:%d:%d:%s:%d",
		m.Name, m.Digest, m.TotalSize, m.ChunkSize, m.PublisherKey, m.CreatedAt.UnixNano())
	for _, c := range m.Chunks {
		fmt.Fprintf(&b, ":%d:%s", c.Size, c.Digest)
	}
	return b.Bytes()
}

// ContentID derives the CIDv1 (raw codec, sha2-256) addressing the manifest.
func (m *ContentManifest) ContentID() (cid.Cid, error) {
	h, err := multihash.Sum(m.canonicalBody(), multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, fmt.Errorf("hash manifest: %w", err)
	}
	return cid.NewCidV1(cid.Raw, h), nil
}

// Digests returns every chunk digest in order.
func (m *ContentManifest) Digests() []ChunkDigest {
	out := make([]ChunkDigest, len(m.Chunks))
	for i, c := range m.Chunks {
		out[i] = c.Digest
	}
	return out
}

// ParseContentID parses and normalizes a content id string.
func ParseContentID(s string) (cid.Cid, error) {
	c, err := cid.Decode(s)
	if err != nil {
		return cid.Undef, fmt.Errorf("%w: invalid content id %q: %v", domain.ErrValidation, s, err)
	}
	return c, nil
}

// VerifyChunk validates a downloaded chunk against its expected digest.
func VerifyChunk(data []byte, expected ChunkDigest) error {
	actual := sha256.Sum256(data)
	if ChunkDigest(encodeHex(actual[:])) != expected {
		return domain.ErrChunkCorrupted
	}
	return nil
}

// SplitIntoChunks creates a ContentManifest from a packed archive.
func SplitIntoChunks(name string, data []byte, chunkSize int) (*ContentManifest, [][]byte) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	totalHash := sha256.Sum256(data)
	manifest := &ContentManifest{
		Name:      name,
		Digest:    encodeHex(totalHash[:]),
		TotalSize: int64(len(data)),
		ChunkSize: chunkSize,
		CreatedAt: time.Now().UTC(),
	}

	var chunks [][]byte
	for offset := 0; offset < len(data); offset += chunkSize {
		end := min(offset+chunkSize, len(data))
		chunk := data[offset:end]
		chunkHash := sha256.Sum256(chunk)

		manifest.Chunks = append(manifest.Chunks, ChunkInfo{
			Index:  len(manifest.Chunks),
			Offset: int64(offset),
			Size:   len(chunk),
			Digest: ChunkDigest(encodeHex(chunkHash[:])),
		})
		chunks = append(chunks, chunk)
	}

	return manifest, chunks
}

// SignManifest signs a manifest with an Ed25519 private key.
func SignManifest(m *ContentManifest, privateKey ed25519.PrivateKey) {
	pubKey := privateKey.Public().(ed25519.PublicKey)
	m.PublisherKey = encodeHex(pubKey)
	m.Signature = encodeHex(ed25519.Sign(privateKey, m.canonicalBody()))
}

// Assemble concatenates verified chunks and checks the whole-archive digest.
func (m *ContentManifest) Assemble(chunks [][]byte) ([]byte, error) {
	if len(chunks) != len(m.Chunks) {
		return nil, fmt.Errorf("%w: have %d of %d chunks", domain.ErrChunkCorrupted, len(chunks), len(m.Chunks))
	}
	data := make([]byte, 0, m.TotalSize)
	for _, c := range chunks {
		data = append(data, c...)
	}
	sum := sha256.Sum256(data)
	if encodeHex(sum[:]) != m.Digest {
		return nil, fmt.Errorf("%w: archive digest mismatch", domain.ErrChunkCorrupted)
	}
	return data, nil
}

func encodeHex(b []byte) string {
	return hex.EncodeToString(b)
}

// ─── Peer Swarm ─────────────────────────────────────────────────────────────
// Tracks which peers hold which content and chunks. Used to order download
// sources.

// PeerChunkMap tracks content availability across the swarm.
type PeerChunkMap struct {
	mu    sync.RWMutex
	peers map[string]*bloom.BloomFilter // peerID → bloom filter of content ids and chunk digests
}

// NewPeerChunkMap creates a peer availability tracker.
func NewPeerChunkMap() *PeerChunkMap {
	return &PeerChunkMap{
		peers: make(map[string]*bloom.BloomFilter),
	}
}

func newAvailabilityFilter(n int) *bloom.BloomFilter {
	return bloom.NewWithEstimates(uint(max(n, 100)), 0.001)
}

// RegisterPeer adds a peer's inventory, keeping what was already known.
func (pcm *PeerChunkMap) RegisterPeer(peerID string, keys []string) {
	pcm.mu.Lock()
	defer pcm.mu.Unlock()

	bf, ok := pcm.peers[peerID]
	if !ok {
		bf = newAvailabilityFilter(len(keys))
		pcm.peers[peerID] = bf
	}
	for _, k := range keys {
		bf.AddString(k)
	}
}

// RegisterManifest records that a peer holds a content id and all its chunks.
func (pcm *PeerChunkMap) RegisterManifest(peerID, contentID string, m *ContentManifest) {
	keys := make([]string, 0, len(m.Chunks)+1)
	keys = append(keys, contentID)
	for _, d := range m.Digests() {
		keys = append(keys, string(d))
	}
	pcm.RegisterPeer(peerID, keys)
}

// RemovePeer removes a peer from the swarm.
func (pcm *PeerChunkMap) RemovePeer(peerID string) {
	pcm.mu.Lock()
	defer pcm.mu.Unlock()
	delete(pcm.peers, peerID)
}

// PeersWith returns peers that likely hold key (a content id or chunk digest).
// Bloom filters give no false negatives and ≤ 0.1% false positives.
func (pcm *PeerChunkMap) PeersWith(key string) []string {
	pcm.mu.RLock()
	defer pcm.mu.RUnlock()

	var result []string
	for peerID, bf := range pcm.peers {
		if bf.TestString(key) {
			result = append(result, peerID)
		}
	}
	sort.Strings(result) // deterministic ordering
	return result
}

// PeerCount returns the number of tracked peers.
func (pcm *PeerChunkMap) PeerCount() int {
	pcm.mu.RLock()
	defer pcm.mu.RUnlock()
	return len(pcm.peers)
}

// ─── Transfer Tracker ───────────────────────────────────────────────────────
// Tracks download progress for one content id.

// TransferStatus represents the state of a chunk transfer.
type TransferStatus int

const (
	TransferPending    TransferStatus = iota // Not yet started
	TransferComplete                         // Downloaded and verified
	TransferFailed                           // Download or verification failed
)

// TransferProgress tracks the download state of one content archive.
type TransferProgress struct {
	mu         sync.Mutex
	ContentID  string
	Manifest   *ContentManifest
	ChunkState []TransferStatus
	Data       [][]byte
	StartedAt  time.Time
	BytesDone  int64
}

// NewTransferProgress creates a progress tracker for a manifest.
func NewTransferProgress(contentID string, manifest *ContentManifest) *TransferProgress {
	return &TransferProgress{
		ContentID:  contentID,
		Manifest:   manifest,
		ChunkState: make([]TransferStatus, manifest.ChunkCount()),
		Data:       make([][]byte, manifest.ChunkCount()),
		StartedAt:  time.Now(),
	}
}

// MarkComplete stores a verified chunk.
func (tp *TransferProgress) MarkComplete(index int, data []byte) {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	if index >= 0 && index < len(tp.ChunkState) && tp.ChunkState[index] != TransferComplete {
		tp.ChunkState[index] = TransferComplete
		tp.Data[index] = data
		tp.BytesDone += int64(tp.Manifest.Chunks[index].Size)
	}
}

// MarkFailed marks a chunk as failed so another source is tried.
func (tp *TransferProgress) MarkFailed(index int) {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	if index >= 0 && index < len(tp.ChunkState) && tp.ChunkState[index] != TransferComplete {
		tp.ChunkState[index] = TransferFailed
	}
}

// PendingChunks returns indices of chunks not yet downloaded.
func (tp *TransferProgress) PendingChunks() []int {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	var pending []int
	for i, s := range tp.ChunkState {
		if s != TransferComplete {
			pending = append(pending, i)
		}
	}
	return pending
}

// IsComplete returns true if all chunks are downloaded.
func (tp *TransferProgress) IsComplete() bool {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	for _, s := range tp.ChunkState {
		if s != TransferComplete {
			return false
		}
	}
	return true
}

// ProgressPct returns download completion as a percentage (0-100).
func (tp *TransferProgress) ProgressPct() float64 {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	if len(tp.ChunkState) == 0 {
		return 100.0
	}
	done := 0
	for _, s := range tp.ChunkState {
		if s == TransferComplete {
			done++
		}
	}
	return float64(done) / float64(len(tp.ChunkState)) * 100.0
}

// Chunks returns the downloaded chunk data in order.
func (tp *TransferProgress) Chunks() [][]byte {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	return append([][]byte(nil), tp.Data...)
}

// Elapsed returns time since the transfer started.
func (tp *TransferProgress) Elapsed() time.Duration {
	return time.Since(tp.StartedAt)
}
