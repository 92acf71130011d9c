package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Location is the value held by a route's location key.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (l Location) Validate() error {
	if l.Latitude < -90 || l.Latitude > 90 {
		return fmt.Errorf("latitude %v out of range", l.Latitude)
	}
	if l.Longitude < -180 || l.Longitude > 180 {
		return fmt.Errorf("longitude %v out of range", l.Longitude)
	}
	return nil
}

// Status is the value held by a route's status key.
type Status struct {
	IsActive bool `json:"isActive"`
}

// MaxTipLength bounds the message of the day, in runes.
const MaxTipLength = 280

// Tip is the per-route message of the day.
type Tip struct {
	Text     string    `json:"text"`
	PostedAt time.Time `json:"postedAt"`
}

// NormalizeTipText trims surrounding whitespace and rejects empty or oversized text.
func NormalizeTipText(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("tip text is required")
	}
	if utf8.RuneCountInString(s) > MaxTipLength {
		return "", fmt.Errorf("tip text must be at most %d characters", MaxTipLength)
	}
	return s, nil
}
