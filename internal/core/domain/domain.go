package domain

import (
	"time"
)

// User is the public profile of an authenticated account.
type User struct {
	ID        string
	Name      string
	Username  *string
	Image     *string
	CreatedAt time.Time
}

// UserSummary is the slice of a profile embedded in relations. The
// anonymized fields are only filled on the leaderboard.
type UserSummary struct {
	ID                 string  `json:"id"`
	Name               string  `json:"name"`
	Username           *string `json:"username"`
	Image              *string `json:"image"`
	UsernameAnonymized *string `json:"username_anonymized,omitempty"`
	PictureAnonymized  *string `json:"picture_anonymized,omitempty"`
}

// AnonymizedIdentity is the alias a user can appear under publicly.
type AnonymizedIdentity struct {
	Username string `json:"username_anonymized"`
	Picture  string `json:"picture_anonymized"`
}

func (a AnonymizedIdentity) Complete() bool {
	return a.Username != "" && a.Picture != ""
}

// PresenceEntry marks a user as reachable over a live session until ExpiresAt.
type PresenceEntry struct {
	UserID    string
	ExpiresAt time.Time
}

func (p PresenceEntry) Live(now time.Time) bool {
	return now.Before(p.ExpiresAt)
}

// PokeRelation is the undirected poke counter between two users.
type PokeRelation struct {
	ID                 string      `json:"id"`
	UserAID            string      `json:"user_a_id"`
	UserBID            string      `json:"user_b_id"`
	Count              int         `json:"count"`
	LastPokeDate       time.Time   `json:"last_poke_date"`
	LastPokeBy         string      `json:"last_poke_by"`
	VisibleLeaderboard bool        `json:"visible_leaderboard"`
	OtherUser          UserSummary `json:"other_user"`
}

// Other returns the id of the participant that is not userID.
func (r PokeRelation) Other(userID string) string {
	if r.UserAID == userID {
		return r.UserBID
	}
	return r.UserAID
}

// YourTurn reports whether the last poke came from the other side.
func (r PokeRelation) YourTurn() bool {
	return r.LastPokeBy == r.OtherUser.ID
}

// NotificationSnapshot is the authoritative view of a user's relations,
// re-read from the store on every emission.
type NotificationSnapshot struct {
	Relations  []PokeRelation `json:"poke_relations"`
	Count      int            `json:"count"`
	TotalPokes int            `json:"total_pokes"`
}

func NewNotificationSnapshot(relations []PokeRelation) *NotificationSnapshot {
	if relations == nil {
		relations = []PokeRelation{}
	}
	total := 0
	for _, r := range relations {
		total += r.Count
	}
	return &NotificationSnapshot{
		Relations:  relations,
		Count:      len(relations),
		TotalPokes: total,
	}
}

// PokeResult is returned to the actor of a poke.
type PokeResult struct {
	Relation      PokeRelation `json:"poke_relation"`
	IsNewRelation bool         `json:"is_new_relation"`
}

// LeaderboardEntry is a visible relation with both participants resolved.
type LeaderboardEntry struct {
	ID           string      `json:"id"`
	Count        int         `json:"count"`
	LastPokeDate time.Time   `json:"last_poke_date"`
	LastPokeBy   string      `json:"last_poke_by"`
	UserA        UserSummary `json:"user_a"`
	UserB        UserSummary `json:"user_b"`
}

// SearchResult is a user matching a search, annotated with the caller's relation.
type SearchResult struct {
	User            UserSummary `json:"user"`
	CreatedAt       time.Time   `json:"created_at"`
	HasPokeRelation bool        `json:"has_poke_relation"`
	Count           int         `json:"count"`
	LastPokeBy      string      `json:"last_poke_by,omitempty"`
}

// PushKeys are the browser generated encryption keys of a subscription.
type PushKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// PushSubscription is a durable web push target registered by a device.
type PushSubscription struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	Endpoint       string     `json:"endpoint"`
	ExpirationTime *time.Time `json:"expiration_time,omitempty"`
	Keys           PushKeys   `json:"keys"`
}

// Expired reports whether the browser declared the subscription expired.
func (s PushSubscription) Expired(now time.Time) bool {
	return s.ExpirationTime != nil && !now.Before(*s.ExpirationTime)
}

// PushPayload is the JSON body delivered to the service worker.
type PushPayload struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Icon  string            `json:"icon"`
	Data  map[string]string `json:"data"`
}

func PokePushPayload() PushPayload {
	return PushPayload{
		Title: "You were poked!",
		Body:  "Open Pok7 to see who poked you.",
		Icon:  "/favicon-32x32.png",
		Data:  map[string]string{"type": "poke"},
	}
}

func DiagnosticPushPayload() PushPayload {
	return PushPayload{
		Title: "Test Notification",
		Body:  "This is a test notification from Pok7!",
		Icon:  "/favicon-32x32.png",
		Data:  map[string]string{"type": "test"},
	}
}
