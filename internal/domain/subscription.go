package domain

import (
	"errors"
	"time"
)

var (
	ErrSubscriptionNotFound    = errors.New("subscription not found")
	ErrTargetAlreadySubscribed = errors.New("target is already subscribed")
	ErrNoActiveToken           = errors.New("user has no active token")
	ErrUnknownFeature          = errors.New("unknown push feature")
	ErrInvalidTarget           = errors.New("invalid delivery target")
	ErrFeatureDisabled         = errors.New("push feature is disabled")
	ErrEmptyToken              = errors.New("user id and token are required")
)

// Feature names a push feature a user can subscribe to.
type Feature string

const (
	FeaturePlaceTask    Feature = "place_task"
	FeatureDailyKeyword Feature = "daily_keyword"
	FeatureDailyReport  Feature = "daily_report"
	FeatureWeeklyReport Feature = "weekly_report"
)

var features = []Feature{FeaturePlaceTask, FeatureDailyKeyword, FeatureDailyReport, FeatureWeeklyReport}

func Features() []Feature {
	return append([]Feature(nil), features...)
}

func ParseFeature(s string) (Feature, error) {
	for _, f := range features {
		if string(f) == s {
			return f, nil
		}
	}
	return "", ErrUnknownFeature
}

type TargetType string

const (
	TargetGroup   TargetType = "group"
	TargetPrivate TargetType = "private"
)

// DefaultPlatform is the chat adapter used when a target omits its platform.
const DefaultPlatform = "aiocqhttp"

// Target addresses one chat destination.
type Target struct {
	Type     TargetType `json:"type"`
	ID       string     `json:"id"`
	Platform string     `json:"platform"`
}

func (t Target) Validate() error {
	if t.ID == "" {
		return ErrInvalidTarget
	}
	if t.Type != TargetGroup && t.Type != TargetPrivate {
		return ErrInvalidTarget
	}
	return nil
}

// WithDefaults fills in the platform and type when they are empty.
func (t Target) WithDefaults() Target {
	if t.Platform == "" {
		t.Platform = DefaultPlatform
	}
	if t.Type == "" {
		t.Type = TargetGroup
	}
	return t
}

// Session renders the target as platform:type:id, the form chat adapters use to address sessions.
func (t Target) Session() string {
	return t.Platform + ":" + string(t.Type) + ":" + t.ID
}

func (t Target) Same(o Target) bool {
	return t.Type == o.Type && t.ID == o.ID && t.Platform == o.Platform
}

// Subscription is one user's opt-in to a push feature.
type Subscription struct {
	Feature   Feature
	UserID    string
	Token     string
	Targets   []Target
	UpdatedAt time.Time
}

// GroupTargets returns only the group targets, in subscription order.
func (s *Subscription) GroupTargets() []Target {
	var out []Target
	for _, t := range s.Targets {
		if t.Type == TargetGroup {
			out = append(out, t)
		}
	}
	return out
}
