package protocol

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// SingleWildcard matches exactly one segment.
	SingleWildcard = "*"
	// MultiWildcard matches one or more trailing segments.
	MultiWildcard = ">"

	separator = "."
)

var ErrInvalidPattern = errors.New("invalid topic pattern")

// ValidatePattern checks a subscription pattern such as "orders.*" or "agents.>".
func ValidatePattern(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("%w: empty", ErrInvalidPattern)
	}
	parts := strings.Split(pattern, separator)
	for i, p := range parts {
		switch {
		case p == "":
			return fmt.Errorf("%w: %q has an empty segment", ErrInvalidPattern, pattern)
		case p == MultiWildcard && i != len(parts)-1:
			return fmt.Errorf("%w: %q uses %q before the last segment", ErrInvalidPattern, pattern, MultiWildcard)
		case p != SingleWildcard && p != MultiWildcard && strings.ContainsAny(p, "*> \t"):
			return fmt.Errorf("%w: %q has a partial wildcard segment %q", ErrInvalidPattern, pattern, p)
		}
	}
	return nil
}

// ValidateTopic checks a concrete topic used for publishing.
func ValidateTopic(topic string) error {
	if err := ValidatePattern(topic); err != nil {
		return err
	}
	if strings.ContainsAny(topic, "*>") {
		return fmt.Errorf("%w: %q contains wildcards", ErrInvalidPattern, topic)
	}
	return nil
}

// Match reports whether topic is matched by pattern.
func Match(pattern, topic string) bool {
	ps := strings.Split(pattern, separator)
	ts := strings.Split(topic, separator)

	for i, p := range ps {
		if p == MultiWildcard {
			return i < len(ts)
		}
		if i >= len(ts) {
			return false
		}
		if p != SingleWildcard && p != ts[i] {
			return false
		}
	}
	return len(ps) == len(ts)
}
