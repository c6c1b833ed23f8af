package domain

import "time"

// SubscriptionStatus enumerates billing entitlement states.
type SubscriptionStatus string

const (
	SubscriptionNone   SubscriptionStatus = "none"
	SubscriptionTrial  SubscriptionStatus = "trial"
	SubscriptionActive SubscriptionStatus = "active"
)

// User represents an account as seen by the job pipeline. The record is
// created lazily the first time a user creates a job; the id is the subject
// issued by the identity provider and doubles as the billing lookup key.
type User struct {
	ID                 string
	Email              string
	SubscriptionStatus SubscriptionStatus
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// IsSubscribed reports whether the user holds paid or trial access.
func (u User) IsSubscribed() bool {
	return u.SubscriptionStatus == SubscriptionActive || u.SubscriptionStatus == SubscriptionTrial
}
