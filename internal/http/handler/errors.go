package handler

import (
	"errors"
	"net/http"

	"github.com/ErlanBelekov/df-notifier/internal/domain"
)

const (
	errInternalServer        = "Internal server error"
	errSubscriptionNotFound  = "Subscription not found"
	errAlreadySubscribed     = "Target is already subscribed"
	errNoActiveToken         = "User has no bound game token"
	errUnknownFeature        = "Unknown push feature"
	errFeatureDisabled       = "Push feature is disabled"
	errInvalidTarget         = "Invalid delivery target"
	errInvalidMode           = "Invalid API mode"
	errNotBroadcastAdmin     = "Only broadcast admins may broadcast"
	errEmptyBroadcast        = "Broadcast message is empty"
	errNoBroadcastTargets    = "No broadcast targets given or configured"
	errInvalidTargetType     = "Target type must be group or private"
	errTokenOrUserIDRequired = "User id and token are required"
)

// domainErrors maps sentinel errors to an HTTP status and a public message.
var domainErrors = []struct {
	err     error
	status  int
	message string
}{
	{domain.ErrSubscriptionNotFound, http.StatusNotFound, errSubscriptionNotFound},
	{domain.ErrTargetAlreadySubscribed, http.StatusConflict, errAlreadySubscribed},
	{domain.ErrNoActiveToken, http.StatusUnprocessableEntity, errNoActiveToken},
	{domain.ErrUnknownFeature, http.StatusNotFound, errUnknownFeature},
	{domain.ErrFeatureDisabled, http.StatusConflict, errFeatureDisabled},
	{domain.ErrInvalidTarget, http.StatusBadRequest, errInvalidTarget},
	{domain.ErrNotBroadcastAdmin, http.StatusForbidden, errNotBroadcastAdmin},
	{domain.ErrEmptyBroadcast, http.StatusBadRequest, errEmptyBroadcast},
	{domain.ErrNoBroadcastTargets, http.StatusUnprocessableEntity, errNoBroadcastTargets},
	{domain.ErrEmptyToken, http.StatusBadRequest, errTokenOrUserIDRequired},
}

func mapError(err error) (int, string, bool) {
	for _, d := range domainErrors {
		if errors.Is(err, d.err) {
			return d.status, d.message, true
		}
	}
	return http.StatusInternalServerError, errInternalServer, false
}
