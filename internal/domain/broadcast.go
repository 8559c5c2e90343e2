package domain

import (
	"errors"
	"time"
)

var (
	ErrNotBroadcastAdmin  = errors.New("sender is not a broadcast admin")
	ErrEmptyBroadcast     = errors.New("broadcast message is empty")
	ErrNoBroadcastTargets = errors.New("no broadcast targets configured")
)

type BroadcastRecord struct {
	ID           int64
	SenderID     string
	Message      string
	Targets      []string
	SuccessCount int
	FailCount    int
	CreatedAt    time.Time
}
