package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Condition is the comparison an alarm applies to the latest price.
type Condition int

const (
	GreaterThan Condition = iota + 1
	LessThan
)

func ParseCondition(s string) (Condition, error) {
	switch strings.TrimSpace(s) {
	case ">":
		return GreaterThan, nil
	case "<":
		return LessThan, nil
	}
	return 0, &ValidationError{Field: "condition", Value: s, Reason: "valid condition options: '<', '>'"}
}

func (c Condition) String() string {
	switch c {
	case GreaterThan:
		return ">"
	case LessThan:
		return "<"
	}
	return "Condition(" + strconv.Itoa(int(c)) + ")"
}

func (c Condition) MarshalText() ([]byte, error) {
	if c != GreaterThan && c != LessThan {
		return nil, fmt.Errorf("unknown condition %d", int(c))
	}
	return []byte(c.String()), nil
}

func (c *Condition) UnmarshalText(text []byte) error {
	parsed, err := ParseCondition(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Evaluate reports whether price satisfies the condition against target.
// Equality never satisfies either condition.
func Evaluate(condition Condition, target, price float64) bool {
	switch condition {
	case GreaterThan:
		return price > target
	case LessThan:
		return price < target
	}
	return false
}

// RepeatPolicy decides whether a triggered alarm stays scheduled.
type RepeatPolicy int

const (
	FireOnce RepeatPolicy = iota + 1
	FireRepeatedly
)

// ParseRepeatPolicy accepts "once" and "repeat" in any case; empty means once.
func ParseRepeatPolicy(s string) (RepeatPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "once":
		return FireOnce, nil
	case "repeat":
		return FireRepeatedly, nil
	}
	return 0, &ValidationError{Field: "alarm_type", Value: s, Reason: "valid alarm_type options: 'once', 'repeat'"}
}

func (p RepeatPolicy) String() string {
	switch p {
	case FireOnce:
		return "once"
	case FireRepeatedly:
		return "repeat"
	}
	return "RepeatPolicy(" + strconv.Itoa(int(p)) + ")"
}

func (p RepeatPolicy) MarshalText() ([]byte, error) {
	if p != FireOnce && p != FireRepeatedly {
		return nil, fmt.Errorf("unknown repeat policy %d", int(p))
	}
	return []byte(p.String()), nil
}

func (p *RepeatPolicy) UnmarshalText(text []byte) error {
	parsed, err := ParseRepeatPolicy(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Reason records why an alarm was retired.
type Reason int

const (
	ReasonUnset Reason = iota + 1
	ReasonTrigger
	ReasonError
)

func ParseReason(s string) (Reason, error) {
	switch s {
	case "unset":
		return ReasonUnset, nil
	case "trigger":
		return ReasonTrigger, nil
	case "error":
		return ReasonError, nil
	}
	return 0, fmt.Errorf("unknown retirement reason %q", s)
}

func (r Reason) String() string {
	switch r {
	case ReasonUnset:
		return "unset"
	case ReasonTrigger:
		return "trigger"
	case ReasonError:
		return "error"
	}
	return "Reason(" + strconv.Itoa(int(r)) + ")"
}

// Alarm is a user-owned price condition on a ticker.
type Alarm struct {
	ID          string       `json:"alarm_id"`
	OwnerID     int64        `json:"owner_id"`
	Ticker      string       `json:"ticker"`
	Condition   Condition    `json:"condition"`
	Target      float64      `json:"target"`
	Repeat      RepeatPolicy `json:"alarm_type"`
	Description string       `json:"description,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// MakeAlarmID derives the alarm id from the owner and the request that created it,
// so re-sending the same request yields the same id.
func MakeAlarmID(ownerID int64, requestID int) string {
	return fmt.Sprintf("%d-%d", ownerID, requestID)
}

// NewAlarm builds an alarm for ownerID from a validated request.
func NewAlarm(ownerID int64, requestID int, req Request, now time.Time) Alarm {
	return Alarm{
		ID:          MakeAlarmID(ownerID, requestID),
		OwnerID:     ownerID,
		Ticker:      req.Ticker,
		Condition:   req.Condition,
		Target:      req.Target,
		Repeat:      req.Repeat,
		Description: req.Description,
		CreatedAt:   now.UTC(),
	}
}

// Triggered evaluates the alarm condition against price.
func (a Alarm) Triggered(price float64) bool {
	return Evaluate(a.Condition, a.Target, price)
}

func (a Alarm) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[alarm_id = %s, alarm_type = %s]", a.ID, a.Repeat)
	fmt.Fprintf(&b, "\n%s %s %s", a.Ticker, a.Condition, strconv.FormatFloat(a.Target, 'f', -1, 64))
	if a.Description != "" {
		fmt.Fprintf(&b, "\ndesc = %s", a.Description)
	}
	return b.String()
}
