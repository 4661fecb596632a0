package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// PropertyType whether the user wants to rent or buy
type PropertyType string

const (
	PropertyRent PropertyType = "rent"
	PropertyBuy  PropertyType = "buy"
)

// Valid reports whether p is one of the known property types
func (p PropertyType) Valid() bool {
	return p == PropertyRent || p == PropertyBuy
}

// UserCriteria represents a user's apartment preferences.
// Every field is optional; nil means "not specified".
type UserCriteria struct {
	Location               *string       `db:"location" json:"location,omitempty"`
	PropertyType           *PropertyType `db:"property_type" json:"property_type,omitempty"`
	MinRooms               *int          `db:"min_rooms" json:"min_rooms,omitempty"`
	MaxRooms               *int          `db:"max_rooms" json:"max_rooms,omitempty"`
	MinLivingSpace         *float64      `db:"min_living_space" json:"min_living_space,omitempty"` // m²
	MaxLivingSpace         *float64      `db:"max_living_space" json:"max_living_space,omitempty"` // m²
	MinRent                *float64      `db:"min_rent" json:"min_rent,omitempty"`                 // CHF, monthly rent or total price
	MaxRent                *float64      `db:"max_rent" json:"max_rent,omitempty"`
	Occupants              *int          `db:"occupants" json:"occupants,omitempty"`
	Duration               *string       `db:"duration" json:"duration,omitempty"`
	StartingWhen           *string       `db:"starting_when" json:"starting_when,omitempty"`
	AdditionalRequirements StringList    `db:"additional_requirements" json:"additional_requirements,omitempty"`
	EmailSender            *string       `db:"email_sender" json:"email_sender,omitempty"`
	EmailSubjectKeywords   Keywords      `db:"email_subject_keywords" json:"email_subject_keywords,omitempty"`
}

// IsEmpty returns true if no matching criterion is set.
// Mailbox filters do not count as criteria.
func (c UserCriteria) IsEmpty() bool {
	return c.Location == nil &&
		c.PropertyType == nil &&
		c.MinRooms == nil && c.MaxRooms == nil &&
		c.MinLivingSpace == nil && c.MaxLivingSpace == nil &&
		c.MinRent == nil && c.MaxRent == nil &&
		c.Occupants == nil &&
		c.Duration == nil &&
		c.StartingWhen == nil &&
		len(c.AdditionalRequirements) == 0
}

// Merge returns a copy of c with every field set in other overlaid on top
func (c UserCriteria) Merge(other UserCriteria) UserCriteria {
	out := c
	if other.Location != nil {
		out.Location = other.Location
	}
	if other.PropertyType != nil {
		out.PropertyType = other.PropertyType
	}
	out.MinRooms, out.MaxRooms = mergeRange(c.MinRooms, c.MaxRooms, other.MinRooms, other.MaxRooms)
	out.MinLivingSpace, out.MaxLivingSpace = mergeRange(c.MinLivingSpace, c.MaxLivingSpace, other.MinLivingSpace, other.MaxLivingSpace)
	out.MinRent, out.MaxRent = mergeRange(c.MinRent, c.MaxRent, other.MinRent, other.MaxRent)
	if other.Occupants != nil {
		out.Occupants = other.Occupants
	}
	if other.Duration != nil {
		out.Duration = other.Duration
	}
	if other.StartingWhen != nil {
		out.StartingWhen = other.StartingWhen
	}
	if len(other.AdditionalRequirements) > 0 {
		out.AdditionalRequirements = other.AdditionalRequirements
	}
	if other.EmailSender != nil {
		out.EmailSender = other.EmailSender
	}
	if len(other.EmailSubjectKeywords) > 0 {
		out.EmailSubjectKeywords = other.EmailSubjectKeywords
	}
	return out
}

// mergeRange overlays each set bound of the new range on the old one.
// A kept old bound that would invert the range is dropped.
func mergeRange[T int | float64](lo, hi, newLo, newHi *T) (*T, *T) {
	if newLo != nil {
		lo = newLo
	}
	if newHi != nil {
		hi = newHi
	}
	if lo != nil && hi != nil && *lo > *hi {
		if newLo == nil {
			lo = nil
		} else {
			hi = nil
		}
	}
	return lo, hi
}

// EmailProvider identifies a supported mailbox provider
type EmailProvider string

const (
	ProviderGmail   EmailProvider = "gmail"
	ProviderOutlook EmailProvider = "outlook"
	ProviderYahoo   EmailProvider = "yahoo"
	ProviderICloud  EmailProvider = "icloud"
)

// MonitorSettings mailbox monitoring configuration of a user
type MonitorSettings struct {
	MonitorEmail *string       `db:"monitor_email"`
	Provider     EmailProvider `db:"email_provider"`
	AppPassword  *string       `db:"email_app_password"` // Sealed app password
	Enabled      bool          `db:"email_monitoring_enabled"`
	LastCheck    *time.Time    `db:"last_email_check"`
}

// Configured returns true if the mailbox can be connected to
func (m MonitorSettings) Configured() bool {
	return m.MonitorEmail != nil && *m.MonitorEmail != "" &&
		m.AppPassword != nil && *m.AppPassword != ""
}

// UserProfile is the single stored row per user
type UserProfile struct {
	UserID int64 `db:"user_id"` // Telegram user ID
	ChatID int64 `db:"chat_id"` // Private chat used for deliveries
	UserCriteria
	MonitorSettings
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Keywords ordered set of lowercase subject keywords, stored comma-separated
type Keywords []string

// ParseKeywords splits a comma-separated list into lowercase unique keywords
func ParseKeywords(s string) Keywords {
	var out Keywords
	seen := make(map[string]bool)
	for _, part := range strings.Split(s, ",") {
		kw := strings.ToLower(strings.TrimSpace(part))
		if kw == "" || seen[kw] {
			continue
		}
		seen[kw] = true
		out = append(out, kw)
	}
	return out
}

// String joins keywords with commas
func (k Keywords) String() string {
	return strings.Join(k, ",")
}

// Value implements driver.Valuer
func (k Keywords) Value() (driver.Value, error) {
	if len(k) == 0 {
		return nil, nil
	}
	return k.String(), nil
}

// Scan implements sql.Scanner
func (k *Keywords) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*k = nil
	case string:
		*k = ParseKeywords(v)
	case []byte:
		*k = ParseKeywords(string(v))
	default:
		return fmt.Errorf("unsupported keywords type %T", src)
	}
	return nil
}

// StringList list of strings stored as a JSON array
type StringList []string

// Value implements driver.Valuer
func (l StringList) Value() (driver.Value, error) {
	if len(l) == 0 {
		return nil, nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (l *StringList) Scan(src any) error {
	*l = nil
	return scanJSON(src, (*[]string)(l))
}

func scanJSON(src any, dst any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		return nil
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("unsupported JSON column type %T", src)
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dst)
}
