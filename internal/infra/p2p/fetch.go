package p2p

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"go.uber.org/zap"

	"github.com/torrentnode/torrentnode/internal/domain"
	"github.com/torrentnode/torrentnode/internal/infra/metrics"
)

// ─── Downloading ────────────────────────────────────────────────────────────

// Fetch starts downloading contentID in the background and returns at once.
// origin, when known, is asked first. The outcome is reported as
// EventDownloadFinished or EventDownloadFailed.
func (t *Transport) Fetch(ctx context.Context, contentID, origin string) error {
	if t.host == nil {
		return fmt.Errorf("%w: transport not started", domain.ErrTransport)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := ParseContentID(contentID); err != nil {
		return err
	}

	t.mu.Lock()
	if t.downloading[contentID] {
		t.mu.Unlock()
		return nil
	}
	if _, ok := t.seeds[contentID]; ok {
		t.mu.Unlock()
		t.log.Debug("content already held", zap.String("content_id", contentID))
		return nil
	}
	t.downloading[contentID] = true
	t.mu.Unlock()

	metrics.DownloadsActive.Inc()
	t.wg.Add(1)
	go t.download(contentID, origin)
	return nil
}

func (t *Transport) download(contentID, origin string) {
	defer t.wg.Done()
	defer metrics.DownloadsActive.Dec()
	defer func() {
		t.mu.Lock()
		delete(t.downloading, contentID)
		t.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(t.ctx, t.cfg.FetchTimeout)
	defer cancel()

	dir, size, err := t.fetchContent(ctx, contentID, origin)
	if err != nil {
		t.log.Warn("download failed", zap.String("content_id", contentID), zap.Error(err))
		t.emit(domain.Event{
			Kind:      domain.EventDownloadFailed,
			ContentID: contentID,
			Origin:    origin,
			Err:       err,
		})
		return
	}
	t.log.Info("download finished",
		zap.String("content_id", contentID),
		zap.String("dir", dir),
		zap.Int64("bytes", size))
	t.emit(domain.Event{
		Kind:      domain.EventDownloadFinished,
		ContentID: contentID,
		Origin:    origin,
		Dir:       dir,
		Bytes:     size,
	})
}

func (t *Transport) fetchContent(ctx context.Context, contentID, origin string) (string, int64, error) {
	want, err := ParseContentID(contentID)
	if err != nil {
		return "", 0, err
	}

	var (
		progress *TransferProgress
		lastErr  error
	)
	for ai := range t.sources(ctx, want, origin) {
		if ai.ID == t.host.ID() {
			continue
		}
		if len(ai.Addrs) > 0 && t.host.Network().Connectedness(ai.ID) != network.Connected {
			if err := t.host.Connect(ctx, ai); err != nil {
				lastErr = err
				continue
			}
		}

		m, err := t.requestManifest(ctx, ai.ID, contentID, want)
		if err != nil {
			t.log.Debug("source has no usable manifest", zap.String("peer", ai.ID.String()), zap.Error(err))
			lastErr = err
			continue
		}
		t.available.RegisterManifest(ai.ID.String(), contentID, m)
		if progress == nil {
			progress = NewTransferProgress(contentID, m)
		}

		if err := t.downloadFrom(ctx, ai.ID, progress); err != nil {
			lastErr = err
			if errors.Is(err, domain.ErrChunkCorrupted) {
				t.available.RemovePeer(ai.ID.String())
				t.log.Warn("peer served a corrupt chunk, skipping it", zap.String("peer", ai.ID.String()))
			}
		}
		if progress.IsComplete() {
			break
		}
	}

	if progress == nil || !progress.IsComplete() {
		if ctx.Err() != nil {
			return "", 0, fmt.Errorf("%w: %s: %v", domain.ErrContentNotFound, contentID, ctx.Err())
		}
		if errors.Is(lastErr, domain.ErrChunkCorrupted) {
			return "", 0, fmt.Errorf("%w: %s", lastErr, contentID)
		}
		if lastErr != nil {
			return "", 0, fmt.Errorf("%w: %s: %v", domain.ErrContentNotFound, contentID, lastErr)
		}
		return "", 0, fmt.Errorf("%w: %s", domain.ErrContentNotFound, contentID)
	}

	t.log.Debug("all chunks fetched",
		zap.String("content_id", contentID),
		zap.Int("chunks", progress.Manifest.ChunkCount()),
		zap.Duration("elapsed", progress.Elapsed()))

	chunks := progress.Chunks()
	archive, err := progress.Manifest.Assemble(chunks)
	if err != nil {
		return "", 0, err
	}
	dir := filepath.Join(t.cfg.DataDir, "downloads", contentID)
	if err := os.RemoveAll(dir); err != nil {
		return "", 0, err
	}
	if err := unpackArchive(archive, dir); err != nil {
		return "", 0, fmt.Errorf("unpack %s: %w", contentID, err)
	}

	// Downloaded content is seeded back to the swarm.
	t.addSeed(contentID, &seed{manifest: progress.Manifest, chunks: chunks, dir: dir})
	return dir, progress.Manifest.TotalSize, nil
}

// sources yields download candidates in preference order: the origin, peers
// known to hold the content, other connected peers, then DHT providers.
func (t *Transport) sources(ctx context.Context, c cid.Cid, origin string) <-chan peer.AddrInfo {
	out := make(chan peer.AddrInfo)
	go func() {
		defer close(out)
		seen := make(map[peer.ID]bool)
		send := func(ai peer.AddrInfo) bool {
			if seen[ai.ID] {
				return true
			}
			seen[ai.ID] = true
			select {
			case out <- ai:
				return true
			case <-ctx.Done():
				return false
			}
		}

		var first []peer.ID
		if origin != "" {
			if pid, err := peer.Decode(origin); err == nil {
				first = append(first, pid)
			}
		}
		for _, s := range t.available.PeersWith(c.String()) {
			if pid, err := peer.Decode(s); err == nil {
				first = append(first, pid)
			}
		}
		first = append(first, t.host.Network().Peers()...)
		for _, pid := range first {
			if !send(peer.AddrInfo{ID: pid}) {
				return
			}
		}

		if t.dht == nil {
			return
		}
		for ai := range t.dht.FindProvidersAsync(ctx, c, 20) {
			if !send(ai) {
				return
			}
		}
	}()
	return out
}

func (t *Transport) requestManifest(ctx context.Context, pid peer.ID, contentID string, want cid.Cid) (*ContentManifest, error) {
	s, err := t.host.NewStream(ctx, pid, FetchProtocol)
	if err != nil {
		return nil, fmt.Errorf("%w: open fetch stream: %v", domain.ErrTransport, err)
	}
	fc := newFrameConn(s)
	defer fc.Close()

	if err := fc.writeJSON(fetchRequest{Op: opManifest, ContentID: contentID}); err != nil {
		return nil, err
	}
	var reply fetchReply
	if err := fc.readJSON(&reply); err != nil {
		return nil, err
	}
	if !reply.OK || reply.Manifest == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrContentNotFound, reply.Error)
	}

	m := reply.Manifest
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if err := m.VerifySignature(); err != nil {
		return nil, err
	}
	got, err := m.ContentID()
	if err != nil {
		return nil, err
	}
	if !got.Equals(want) {
		return nil, fmt.Errorf("%w: manifest hashes to %s", domain.ErrManifestInvalid, got)
	}
	return m, nil
}

func (t *Transport) downloadFrom(ctx context.Context, pid peer.ID, progress *TransferProgress) error {
	for _, idx := range progress.PendingChunks() {
		data, err := t.requestChunk(ctx, pid, progress.ContentID, idx)
		if err != nil {
			progress.MarkFailed(idx)
			return err
		}
		if err := VerifyChunk(data, progress.Manifest.Chunks[idx].Digest); err != nil {
			progress.MarkFailed(idx)
			return fmt.Errorf("chunk %d from %s: %w", idx, pid, err)
		}
		progress.MarkComplete(idx, data)
		t.bytesDown.Add(int64(len(data)))
		metrics.SwarmBytes.WithLabelValues("down").Add(float64(len(data)))
	}
	return nil
}

func (t *Transport) requestChunk(ctx context.Context, pid peer.ID, contentID string, idx int) ([]byte, error) {
	s, err := t.host.NewStream(ctx, pid, FetchProtocol)
	if err != nil {
		return nil, fmt.Errorf("%w: open fetch stream: %v", domain.ErrTransport, err)
	}
	fc := newFrameConn(s)
	defer fc.Close()

	if err := fc.writeJSON(fetchRequest{Op: opChunk, ContentID: contentID, Index: idx}); err != nil {
		return nil, err
	}
	var reply fetchReply
	if err := fc.readJSON(&reply); err != nil {
		return nil, err
	}
	if !reply.OK {
		return nil, fmt.Errorf("%w: chunk %d: %s", domain.ErrContentNotFound, idx, reply.Error)
	}
	return fc.readRaw()
}

// ─── Serving ────────────────────────────────────────────────────────────────

func (t *Transport) handleFetch(s network.Stream) {
	fc := newFrameConn(s)
	defer fc.Close()

	var req fetchRequest
	if err := fc.readJSON(&req); err != nil {
		return
	}

	t.mu.RLock()
	sd, ok := t.seeds[req.ContentID]
	t.mu.RUnlock()
	if !ok {
		_ = fc.writeJSON(fetchReply{Error: "content not seeded"})
		return
	}

	switch req.Op {
	case opManifest:
		_ = fc.writeJSON(fetchReply{OK: true, Manifest: sd.manifest})
	case opChunk:
		if req.Index < 0 || req.Index >= len(sd.chunks) {
			_ = fc.writeJSON(fetchReply{Error: "chunk index out of range"})
			return
		}
		if err := fc.writeJSON(fetchReply{OK: true}); err != nil {
			return
		}
		chunk := sd.chunks[req.Index]
		if err := fc.writeRaw(chunk); err != nil {
			return
		}
		t.bytesUp.Add(int64(len(chunk)))
		metrics.SwarmBytes.WithLabelValues("up").Add(float64(len(chunk)))
	default:
		_ = fc.writeJSON(fetchReply{Error: "unknown op"})
	}
}
