package domain

import "errors"

var (
	ErrInvalidUserID            = errors.New("invalid user id")
	ErrUserNotFound             = errors.New("user not found")
	ErrSelfPoke                 = errors.New("you cannot poke yourself")
	ErrRelationNotFound         = errors.New("poke relation not found")
	ErrPushSubscriptionNotFound = errors.New("push subscription not found")
	ErrNoPushSubscriptions      = errors.New("no push subscriptions for user")
	ErrSubscriptionExpired      = errors.New("push subscription expired or invalid")
	ErrPresenceUnavailable      = errors.New("presence registry unavailable")
	ErrBrokerUnavailable        = errors.New("broker unavailable")
	ErrWaitTimeout              = errors.New("wait for signal timed out")
	ErrSubscriptionClosed       = errors.New("channel subscription closed")
	ErrMalformedFrame           = errors.New("malformed client frame")
	ErrInvalidPushSubscription  = errors.New("push subscription needs an https endpoint and keys")
)
