package p2p

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-msgio"
)

// ─── Wire Protocols ─────────────────────────────────────────────────────────

const (
	// FetchProtocol serves manifests and chunks of seeded content.
	FetchProtocol protocol.ID = "/torrentnode/fetch/1.0.0"
	// ResultProtocol carries signed result envelopes back to publishers.
	ResultProtocol protocol.ID = "/torrentnode/result/1.0.0"
	// DHTPrefix keeps the Kademlia table separate from the public IPFS DHT.
	DHTPrefix protocol.ID = "/torrentnode"
	// TaskTopic is the GossipSub topic for task announcements.
	TaskTopic = "torrentnode/tasks/1"

	maxFrameSize  = MaxChunkSize + 64*1024
	streamTimeout = 30 * time.Second
)

const (
	opManifest = "manifest"
	opChunk    = "chunk"
)

// fetchRequest asks a seeder for a manifest or a single chunk.
type fetchRequest struct {
	Op        string `json:"op"`
	ContentID string `json:"content_id"`
	Index     int    `json:"index,omitempty"`
}

// fetchReply is the header frame of every fetch response. A successful chunk
// reply is followed by one raw frame holding the chunk bytes.
type fetchReply struct {
	OK       bool             `json:"ok"`
	Error    string           `json:"error,omitempty"`
	Manifest *ContentManifest `json:"manifest,omitempty"`
}

// resultAck acknowledges a delivered result envelope.
type resultAck struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// announcement is published on TaskTopic. The announcing peer is the
// message author, which GossipSub signs.
type announcement struct {
	ContentID string `json:"content_id"`
	Name      string `json:"name,omitempty"`
	Size      int64  `json:"size,omitempty"`
}

// frameConn wraps a stream in varint-delimited frames.
type frameConn struct {
	s network.Stream
	r msgio.ReadCloser
	w msgio.WriteCloser
}

func newFrameConn(s network.Stream) *frameConn {
	_ = s.SetDeadline(time.Now().Add(streamTimeout))
	return &frameConn{
		s: s,
		r: msgio.NewVarintReaderSize(s, maxFrameSize),
		w: msgio.NewVarintWriter(s),
	}
}

func (c *frameConn) writeJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.w.WriteMsg(b)
}

func (c *frameConn) readJSON(v any) error {
	b, err := c.r.ReadMsg()
	if err != nil {
		return err
	}
	defer c.r.ReleaseMsg(b)
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	return nil
}

func (c *frameConn) writeRaw(b []byte) error {
	return c.w.WriteMsg(b)
}

func (c *frameConn) readRaw() ([]byte, error) {
	b, err := c.r.ReadMsg()
	if err != nil {
		return nil, err
	}
	out := append([]byte(nil), b...)
	c.r.ReleaseMsg(b)
	return out, nil
}

func (c *frameConn) Close() error {
	return c.s.Close()
}
