package domain

import "time"

// Member represents user's participation meta for a room.
// No transport or lifecycle logic here.
type Member struct {
	UserID     UserID    `json:"id"`
	Name       string    `json:"name"`
	IsCreator  bool      `json:"isCreator"`
	JoinedAt   time.Time `json:"joinedAt"`
	EndpointID string    `json:"endpointId,omitempty"`
}

// NewMember avoids raw literals in adapters and keeps construction obvious.
func NewMember(id UserID, name string, creator bool, endpointID string) *Member {
	return &Member{
		UserID:     id,
		Name:       name,
		IsCreator:  creator,
		JoinedAt:   time.Now().UTC(),
		EndpointID: endpointID,
	}
}
