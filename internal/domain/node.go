package domain

import "time"

// NodeState is the orchestrator lifecycle state.
type NodeState string

const (
	NodeStopped  NodeState = "stopped"
	NodeStarting NodeState = "starting"
	NodeRunning  NodeState = "running"
	NodeStopping NodeState = "stopping"
)

// NodeStats are the cumulative counters persisted in the node snapshot.
type NodeStats struct {
	TasksCompleted int64     `json:"tasks_completed"`
	TasksFailed    int64     `json:"tasks_failed"`
	DataUploaded   int64     `json:"data_uploaded"`
	DataDownloaded int64     `json:"data_downloaded"`
	TokensEarned   Amount    `json:"tokens_earned"`
	UptimeStart    time.Time `json:"uptime_start"`
}

// NodeStatus is a point-in-time copy of the orchestrator state.
type NodeStatus struct {
	NodeID       string     `json:"node_id"`
	PeerID       string     `json:"peer_id"`
	Addrs        []string   `json:"addrs"`
	State        NodeState  `json:"state"`
	Stats        NodeStats  `json:"stats"`
	Swarm        SwarmStats `json:"swarm"`
	Peers        int        `json:"peers"`
	ActiveTasks  int        `json:"active_tasks"`
	PendingTasks int        `json:"pending_tasks"`
	QueuedTasks  int        `json:"queued_tasks"`
	Uptime       float64    `json:"uptime_seconds"`
}

// PublishedTask records a task this node distributed.
type PublishedTask struct {
	TaskID      string    `json:"task_id"`
	ContentID   string    `json:"content_id"`
	Kind        TaskKind  `json:"type"`
	Reward      Amount    `json:"reward"`
	PublishedAt time.Time `json:"published_at"`
}
