package model

import (
	"strings"
	"time"
)

// User represents a session user. VerifiedPhone is empty until an OTP confirmation succeeds.
type User struct {
	ID            string
	VerifiedPhone string
	CreatedAt     time.Time
}

// HasVerifiedPhone reports whether the user has a bound phone number
func (u User) HasVerifiedPhone() bool {
	return u.VerifiedPhone != ""
}

// Category classifies a company post
type Category string

const (
	CategoryJobPosting    Category = "job_posting"
	CategoryProductUpdate Category = "product_update"
	CategoryCompanyEvent  Category = "company_event"
)

// Valid reports whether c is a known category
func (c Category) Valid() bool {
	switch c {
	case CategoryJobPosting, CategoryProductUpdate, CategoryCompanyEvent:
		return true
	}
	return false
}

// Post is a company-issued post. Read-only to the distribution workflow.
type Post struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Category  Category  `json:"category"`
	ImageURL  string    `json:"image_url,omitempty"`
	LinkURL   string    `json:"link_url,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ChallengeStatus is the lifecycle state of an OTP challenge
type ChallengeStatus string

const (
	ChallengePending   ChallengeStatus = "pending"
	ChallengeConfirmed ChallengeStatus = "confirmed"
	ChallengeExpired   ChallengeStatus = "expired"
	ChallengeFailed    ChallengeStatus = "failed"
)

// Terminal reports whether no further transition is possible
func (s ChallengeStatus) Terminal() bool {
	return s != ChallengePending
}

// Challenge represents one OTP challenge for phone verification.
// CodeHash is SHA-256(phone:code:salt); the plaintext code is never stored.
type Challenge struct {
	PhoneNumber string
	UserID      string
	CodeHash    []byte
	IssuedAt    time.Time
	Status      ChallengeStatus
	Attempts    int
}

// Channel is an outbound distribution target
type Channel string

const (
	ChannelWhatsApp Channel = "whatsapp"
	ChannelTwitter  Channel = "twitter"
	ChannelLinkedIn Channel = "linkedin"
)

// DistributionStatus is the outcome of a dispatch attempt
type DistributionStatus string

const (
	DistributionGated  DistributionStatus = "gated"
	DistributionSent   DistributionStatus = "sent"
	DistributionFailed DistributionStatus = "failed"
)

// DistributionAction records one dispatch attempt of a post to a channel
type DistributionAction struct {
	UserID   string
	PostID   string
	Channel  Channel
	Status   DistributionStatus
	Reason   string
	NextStep string
}

// Action is an engagement action recorded against a post
type Action string

const (
	ActionLike    Action = "like"
	ActionReshare Action = "reshare"
	ActionComment Action = "comment"
	ActionRetweet Action = "retweet"
	ActionReply   Action = "reply"

	sharePrefix = "share:"
)

// ShareAction returns the engagement action for a share to channel
func ShareAction(ch Channel) Action {
	return Action(sharePrefix + string(ch))
}

// Valid reports whether a is a known interaction or a share to a known channel
func (a Action) Valid() bool {
	switch a {
	case ActionLike, ActionReshare, ActionComment, ActionRetweet, ActionReply:
		return true
	}
	if ch, ok := strings.CutPrefix(string(a), sharePrefix); ok {
		switch Channel(ch) {
		case ChannelWhatsApp, ChannelTwitter, ChannelLinkedIn:
			return true
		}
	}
	return false
}

// EngagementEvent is an append-only interaction record
type EngagementEvent struct {
	ID         string
	UserID     string
	PostID     string
	Action     Action
	OccurredAt time.Time
}

// UserStats aggregates a user's engagement events
type UserStats struct {
	TotalEvents int            `json:"total_events"`
	ByAction    map[Action]int `json:"by_action"`
}
