// Package store is the key-value persistence collaborator used by the
// intake pipeline and the plugins. Two backends exist: flat JSON files and
// MongoDB.
package store

import (
	"context"
	"errors"
	"time"
)

// Collections used by the bot.
const (
	Users      = "users"
	Groups     = "groups"
	Messages   = "messages"
	Sudo       = "sudo"
	Settings   = "settings"
	Economy    = "economy"
	Attendance = "attendance"
	Clans      = "clans"
	Companies  = "companies"
)

var (
	ErrClosed     = errors.New("store closed")
	ErrNotNumeric = errors.New("field is not numeric")
)

// Decoder decodes one stored value into out.
type Decoder func(out any) error

// Store is a collection/key/value persistence layer. Values are encoded
// with their json (file backend) or bson (Mongo backend) field names, so
// record types carry both tags.
type Store interface {
	// Get decodes the value stored under key into out. It reports false
	// without error when the key does not exist.
	Get(ctx context.Context, collection, key string, out any) (bool, error)
	Set(ctx context.Context, collection, key string, value any) error
	// Increment adds delta to a numeric field of the value under key,
	// creating the value when it does not exist.
	Increment(ctx context.Context, collection, key, field string, delta float64) error
	Delete(ctx context.Context, collection, key string) error
	// Scan calls fn for every key in collection. Returning an error from fn
	// stops the scan.
	Scan(ctx context.Context, collection string, fn func(key string, decode Decoder) error) error
	Close(ctx context.Context) error
}

// User is the per-sender record kept in the users collection.
type User struct {
	Number       string    `json:"number" bson:"number"`
	Name         string    `json:"name" bson:"name"`
	Premium      bool      `json:"premium" bson:"premium"`
	Banned       bool      `json:"banned" bson:"banned"`
	MessageCount int       `json:"message_count" bson:"message_count"`
	LastSeen     time.Time `json:"last_seen" bson:"last_seen"`
}

// Group is the per-chat record kept in the groups collection.
type Group struct {
	ID             string `json:"id" bson:"id"`
	Name           string `json:"name" bson:"name"`
	WelcomeEnabled bool   `json:"welcome_enabled" bson:"welcome_enabled"`
}

// MessageLog is one entry of the optional message log.
type MessageLog struct {
	Number  string    `json:"number" bson:"number"`
	Text    string    `json:"text" bson:"text"`
	Kind    string    `json:"kind" bson:"kind"`
	GroupID string    `json:"group_id,omitempty" bson:"group_id,omitempty"`
	At      time.Time `json:"at" bson:"at"`
}

// Stats summarises the users/groups/messages collections.
type Stats struct {
	Users    int
	Groups   int
	Messages int
	Premium  int
	Banned   int
}

// CollectStats scans the bookkeeping collections of s.
func CollectStats(ctx context.Context, s Store) (Stats, error) {
	var st Stats
	err := s.Scan(ctx, Users, func(_ string, decode Decoder) error {
		var u User
		if err := decode(&u); err != nil {
			return err
		}
		st.Users++
		if u.Premium {
			st.Premium++
		}
		if u.Banned {
			st.Banned++
		}
		return nil
	})
	if err != nil {
		return st, err
	}
	if err = s.Scan(ctx, Groups, func(string, Decoder) error { st.Groups++; return nil }); err != nil {
		return st, err
	}
	err = s.Scan(ctx, Messages, func(string, Decoder) error { st.Messages++; return nil })
	return st, err
}
