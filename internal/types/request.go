package types

import (
	"math"
	"strconv"
	"strings"
)

// Request is a validated alarm registration.
type Request struct {
	Ticker      string
	Condition   Condition
	Target      float64
	Repeat      RepeatPolicy
	Description string
}

// ParseRequest validates "<ticker> <'<'|'>'> <target> [once|repeat] [description...]".
func ParseRequest(args []string) (Request, error) {
	if len(args) < 3 {
		return Request{}, &ValidationError{Field: "arguments", Value: strings.Join(args, " "), Reason: "ticker, condition and target are required"}
	}

	ticker := strings.ToUpper(strings.TrimSpace(args[0]))
	if ticker == "" {
		return Request{}, &ValidationError{Field: "ticker", Reason: "ticker must not be empty"}
	}

	condition, err := ParseCondition(args[1])
	if err != nil {
		return Request{}, err
	}

	target, err := strconv.ParseFloat(args[2], 64)
	if err != nil || math.IsNaN(target) || math.IsInf(target, 0) {
		return Request{}, &ValidationError{Field: "target", Value: args[2], Reason: "target should be int or float (e.g. 43, 65.1, 4.09)"}
	}

	var policy string
	if len(args) > 3 {
		policy = args[3]
	}
	repeat, err := ParseRepeatPolicy(policy)
	if err != nil {
		return Request{}, err
	}

	var description string
	if len(args) > 4 {
		description = strings.Join(args[4:], " ")
	}

	return Request{
		Ticker:      ticker,
		Condition:   condition,
		Target:      target,
		Repeat:      repeat,
		Description: description,
	}, nil
}
