package bluesky

import (
	"errors"
	"strings"
)

const (
	profileBaseURL           = "https://bsky.app/profile/"
	didPrefix                = "did:"
	errMessageMissingLink    = "record has no target profile link"
	errMessageInvalidLink    = "target profile link has no identifier segment"
	errMessageEmptyLinkValue = "target link value cannot be empty"
)

var (
	// ErrMissingLink indicates a record without any target-network link.
	ErrMissingLink = errors.New(errMessageMissingLink)
	// ErrInvalidLink indicates a target link whose tail segment is empty.
	ErrInvalidLink = errors.New(errMessageInvalidLink)

	errEmptyLinkValue = errors.New(errMessageEmptyLinkValue)
)

// TargetLink is the tagged form of a target profile pointer: either an
// unresolved handle that still needs a directory lookup, or a resolved DID.
type TargetLink struct {
	value    string
	resolved bool
}

// UnresolvedLink constructs a link from a plain handle.
func UnresolvedLink(handle string) (TargetLink, error) {
	trimmed := strings.TrimSpace(handle)
	if trimmed == "" {
		return TargetLink{}, errEmptyLinkValue
	}
	return TargetLink{value: trimmed}, nil
}

// ResolvedLink constructs a link from a canonical DID.
func ResolvedLink(did string) (TargetLink, error) {
	trimmed := strings.TrimSpace(did)
	if trimmed == "" {
		return TargetLink{}, errEmptyLinkValue
	}
	return TargetLink{value: trimmed, resolved: true}, nil
}

// ParseTargetLink extracts the identifier from the tail segment of a stored
// profile URL and classifies it as resolved or unresolved.
func ParseTargetLink(storedURL string) (TargetLink, error) {
	trimmed := strings.TrimSpace(storedURL)
	if trimmed == "" {
		return TargetLink{}, ErrMissingLink
	}
	segments := strings.Split(trimmed, "/")
	tail := strings.TrimSpace(segments[len(segments)-1])
	if tail == "" {
		return TargetLink{}, ErrInvalidLink
	}
	if strings.HasPrefix(tail, didPrefix) {
		return TargetLink{value: tail, resolved: true}, nil
	}
	return TargetLink{value: tail}, nil
}

// Resolved reports whether the link carries a canonical DID.
func (link TargetLink) Resolved() bool {
	return link.resolved
}

// Identifier returns the handle or DID the link carries.
func (link TargetLink) Identifier() string {
	return link.value
}

// ProfileURL returns the canonical profile URL for the link.
func (link TargetLink) ProfileURL() string {
	return profileBaseURL + link.value
}
