package core

import (
	"time"

	"github.com/dkeye/Huddle/internal/domain"
)

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []ConnID
}

// Merge folds another result into r.
func (r *PublishResult) Merge(other PublishResult) {
	r.SendTo += other.SendTo
	r.Dropped = append(r.Dropped, other.Dropped...)
}

// RoomSnapshot is the read-only view handed to a joiner or REST caller.
type RoomSnapshot struct {
	ID        domain.RoomID    `json:"id"`
	Members   []domain.Member  `json:"members"`
	Messages  []domain.Message `json:"messages"`
	InCall    []domain.UserID  `json:"callParticipants"`
	CreatedAt time.Time        `json:"createdAt"`
}

type RoomInfo struct {
	ID          domain.RoomID `json:"id"`
	MemberCount int           `json:"memberCount"`
	CreatedAt   time.Time     `json:"createdAt"`
}
