package domain

import "time"

// EventKind identifies a transport lifecycle event.
type EventKind string

const (
	EventPeerConnected    EventKind = "peer_connected"
	EventPeerDisconnected EventKind = "peer_disconnected"
	EventTopicPeerJoined  EventKind = "topic_peer_joined"
	EventTaskAnnounced    EventKind = "task_announced"
	EventDownloadFinished EventKind = "download_finished"
	EventDownloadFailed   EventKind = "download_failed"
	EventResultReceived   EventKind = "result_received"
	EventAnnounceFailed   EventKind = "announce_failed"
	EventUploaded         EventKind = "uploaded"
	EventSwarmStats       EventKind = "swarm_stats"
)

// Event is pushed by the transport onto its event channel. The transport
// never mutates orchestrator state; the orchestrator is the only consumer.
type Event struct {
	Kind      EventKind
	At        time.Time
	PeerID    string
	Address   string
	Port      int
	ContentID string
	Origin    string // announcing/publishing peer for TaskAnnounced
	Dir       string // extracted content directory for DownloadFinished
	Bytes     int64
	Err       error
	Result    *ResultEnvelope
	Stats     SwarmStats
}

// SwarmStats is a periodic snapshot of the transport session.
type SwarmStats struct {
	Peers           int   `json:"peers"`
	RoutingTable    int   `json:"routing_table"`
	Seeding         int   `json:"seeding"`
	ActiveDownloads int   `json:"active_downloads"`
	BytesUploaded   int64 `json:"bytes_uploaded"`
	BytesDownloaded int64 `json:"bytes_downloaded"`
}
