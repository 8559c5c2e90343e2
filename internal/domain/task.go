package domain

import "time"

// TaskKey identifies one production facility of one user.
type TaskKey struct {
	UserID  string
	PlaceID string
}

// CraftingTask is an in-memory completion timer for a facility that is
// currently producing something. Targets is a copy taken at sync time.
type CraftingTask struct {
	UserID     string
	PlaceID    string
	ObjectName string
	FinishTime time.Time
	Targets    []Target
}

func (t CraftingTask) Key() TaskKey {
	return TaskKey{UserID: t.UserID, PlaceID: t.PlaceID}
}

func (t CraftingTask) Due(now time.Time) bool {
	return !t.FinishTime.After(now)
}
