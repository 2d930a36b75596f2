package domain

import "time"

// PeerRecord is the orchestrator's view of a swarm peer.
type PeerRecord struct {
	PeerID         string    `json:"peer_id"`
	Address        string    `json:"address"`
	Port           int       `json:"port"`
	LastSeen       time.Time `json:"last_seen"`
	Reputation     float64   `json:"reputation"`
	CompletedTasks int       `json:"completed_tasks"`
	FailedTasks    int       `json:"failed_tasks"`
}

// NewPeerRecord creates a record for a freshly connected peer.
func NewPeerRecord(id, address string, port int, now time.Time) PeerRecord {
	return PeerRecord{
		PeerID:     id,
		Address:    address,
		Port:       port,
		LastSeen:   now,
		Reputation: 1.0,
	}
}

// Touch marks the peer as seen.
func (p *PeerRecord) Touch(now time.Time) {
	p.LastSeen = now
}

// RecordOutcome attributes a task outcome to the peer and recomputes its
// reputation as (completed+1)/(completed+failed+1).
func (p *PeerRecord) RecordOutcome(success bool, now time.Time) {
	if success {
		p.CompletedTasks++
	} else {
		p.FailedTasks++
	}
	p.Reputation = float64(p.CompletedTasks+1) / float64(p.CompletedTasks+p.FailedTasks+1)
	p.LastSeen = now
}

// IsStale returns true if the peer has not been seen within staleAfter.
func (p *PeerRecord) IsStale(now time.Time, staleAfter time.Duration) bool {
	return now.Sub(p.LastSeen) > staleAfter
}
