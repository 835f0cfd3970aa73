package freshness

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// State is the shelf-life classification of a lot. States are ordered:
// Green < Yellow < Red < Expired.
type State int

const (
	Green State = iota
	Yellow
	Red
	Expired
)

// RedGrace is how long a lot stays Red after its expiry instant before it is Expired.
const RedGrace = 24 * time.Hour

const day = 24 * time.Hour

var names = map[State]string{
	Green:   "Verde",
	Yellow:  "Giallo",
	Red:     "Rosso",
	Expired: "Scaduto",
}

// Classify maps expiry metadata to a freshness state at instant now.
//
// The lot is Green until the permanence window opens (permanenceDays before expiry),
// Yellow inside the window, Red from the expiry instant until RedGrace has passed,
// and Expired afterwards. A non-positive permanence means the window is empty.
func Classify(expiresAt time.Time, permanenceDays int, now time.Time) State {
	if permanenceDays < 0 {
		permanenceDays = 0
	}
	windowStart := expiresAt.Add(-time.Duration(permanenceDays) * day)

	switch {
	case now.Before(windowStart):
		return Green
	case now.Before(expiresAt):
		return Yellow
	case now.Before(expiresAt.Add(RedGrace)):
		return Red
	default:
		return Expired
	}
}

// Max returns the later of two states. Stored states never move backwards.
func Max(a, b State) State {
	if a > b {
		return a
	}
	return b
}

// Bookable reports whether new reservations may be admitted in this state.
func (s State) Bookable() bool {
	return s != Expired
}

func (s State) String() string {
	if n, ok := names[s]; ok {
		return n
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Parse accepts the wire names case-insensitively, plus the English names.
func Parse(v string) (State, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "verde", "green":
		return Green, nil
	case "giallo", "yellow":
		return Yellow, nil
	case "rosso", "red":
		return Red, nil
	case "scaduto", "expired":
		return Expired, nil
	}
	return Green, fmt.Errorf("unknown freshness state %q", v)
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *State) UnmarshalJSON(data []byte) error {
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	parsed, err := Parse(v)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
