package node

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/torrentnode/torrentnode/internal/domain"
)

const snapshotFile = "node_state.json"

// snapshot is the persisted node state.
type snapshot struct {
	NodeID    string              `json:"node_id"`
	Stats     domain.NodeStats    `json:"stats"`
	Peers     []domain.PeerRecord `json:"peers"`
	Timestamp time.Time           `json:"timestamp"`
}

func (n *Node) snapshotPath() string {
	return filepath.Join(n.cfg.DataDir, snapshotFile)
}

// persist writes the snapshot, logging failures.
func (n *Node) persist() {
	if err := n.saveSnapshot(); err != nil {
		n.log.Error("save snapshot", zap.Error(err))
	}
}

func (n *Node) saveSnapshot() error {
	swarm := n.transport.Stats()
	peers := n.Peers()

	n.mu.RLock()
	snap := snapshot{
		NodeID:    n.id.NodeID,
		Stats:     n.statsLocked(swarm),
		Peers:     peers,
		Timestamp: n.now().UTC(),
	}
	n.mu.RUnlock()

	raw, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return writeFileAtomic(n.snapshotPath(), raw, 0600)
}

// restoreSnapshot loads cumulative counters and peers from the previous
// run's snapshot when it belongs to this node. Uptime restarts now.
func (n *Node) restoreSnapshot() {
	now := n.now().UTC()
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stats.UptimeStart = now

	raw, err := os.ReadFile(n.snapshotPath())
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err != nil {
		n.log.Warn("read snapshot", zap.Error(err))
		return
	}
	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		n.log.Warn("snapshot is unreadable, starting fresh", zap.Error(err))
		return
	}
	if snap.NodeID != n.id.NodeID {
		n.log.Info("snapshot belongs to another node, ignoring it", zap.String("snapshot_node", snap.NodeID))
		return
	}

	n.stats = snap.Stats
	n.stats.UptimeStart = now
	n.bytesBase = domain.NodeStats{
		DataUploaded:   snap.Stats.DataUploaded,
		DataDownloaded: snap.Stats.DataDownloaded,
	}
	for _, p := range snap.Peers {
		rec := p
		n.peers[p.PeerID] = &rec
	}
	n.log.Info("restored snapshot",
		zap.Time("taken_at", snap.Timestamp),
		zap.Int64("tasks_completed", snap.Stats.TasksCompleted),
		zap.Int("peers", len(snap.Peers)))
}

// writeFileAtomic writes data to a temp file in the target directory, syncs
// it and renames it over path, so readers see the old or the new file.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	if _, err = f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err = f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmp, perm); err != nil {
		return err
	}
	if err = os.Rename(tmp, path); err != nil {
		return err
	}
	return nil
}
