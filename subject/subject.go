// Package subject builds and parses the hierarchical NATS subjects used by
// the bridge.
//
// Event subjects follow the form:
//
//	<prefix>.<domain>.<channel>.<event>
//
// e.g. "bridge.events.cytu.be.lounge.chatmsg". Domains are lowercased but
// not otherwise normalized so DNS-style domains keep their dots; channel and
// event tokens are normalized for NATS compatibility. Command subjects share
// the same shape under a separate prefix and are subscribed with a trailing
// ".>" wildcard so a single subscription covers every action for a channel.
package subject

import (
	"fmt"
	"strings"

	"github.com/c360/chanbridge/errors"
)

const (
	// DefaultEventPrefix is the subject prefix for origin events.
	DefaultEventPrefix = "bridge.events"

	// DefaultCommandPrefix is the subject prefix for inbound commands.
	DefaultCommandPrefix = "bridge.commands"

	// MaxTokenLength caps individual subject tokens so assembled subjects
	// stay under NATS limits.
	MaxTokenLength = 100

	// MaxSubjectLength is the NATS server default subject length limit.
	MaxSubjectLength = 255
)

// invalidChars are ASCII characters stripped from subject tokens. NATS
// wildcards (* and >) are removed separately so they can never leak into a
// concrete subject.
const invalidChars = `!@#$%^&()+=[]{|}\:;"'<>,?/`

// tldSuffixes is the allow-list used by Parse to decide whether the first
// two tokens after the prefix form a dotted domain. The heuristic cannot
// distinguish every multi-label domain from a single-label one; domains
// whose final label is not listed here parse as a single token.
var tldSuffixes = map[string]struct{}{
	"com": {}, "be": {}, "org": {}, "net": {}, "io": {},
	"tv": {}, "gg": {}, "me": {}, "co": {},
}

// Components holds the parsed parts of a subject.
type Components struct {
	Prefix  string
	Domain  string
	Channel string
	Name    string
}

// Codec builds and parses subjects under a fixed prefix.
type Codec struct {
	prefix         string
	maxTokenLength int
}

// NewCodec creates a codec for the given prefix. An empty prefix falls back
// to DefaultEventPrefix.
func NewCodec(prefix string) Codec {
	if prefix == "" {
		prefix = DefaultEventPrefix
	}
	return Codec{prefix: prefix, maxTokenLength: MaxTokenLength}
}

// Prefix returns the codec's subject prefix.
func (c Codec) Prefix() string {
	return c.prefix
}

// Normalize sanitizes a subject token for NATS compatibility: lowercases,
// replaces spaces with hyphens, strips wildcard and other illegal
// characters, and truncates to the maximum token length in characters, never
// mid-rune. Unicode letters are preserved.
func (c Codec) Normalize(token string) string {
	if token == "" {
		return ""
	}

	token = strings.ToLower(token)
	token = strings.ReplaceAll(token, " ", "-")
	token = strings.ReplaceAll(token, "*", "")
	token = strings.ReplaceAll(token, ">", "")

	var b strings.Builder
	b.Grow(len(token))
	count := 0
	for _, r := range token {
		if r < 128 && strings.ContainsRune(invalidChars, r) {
			continue
		}
		if count == c.maxTokenLength {
			break
		}
		b.WriteRune(r)
		count++
	}

	return b.String()
}

// Build assembles "<prefix>.<domain>.<channel>.<name>". The domain is
// lowercased but not normalized (its dots are load-bearing); channel and
// name are normalized. Returns ErrInvalidAddress if any segment resolves
// empty or the assembled subject exceeds the NATS length limit.
func (c Codec) Build(domain, channel, name string) (string, error) {
	domainClean := strings.TrimSpace(strings.ToLower(domain))
	channelClean := c.Normalize(channel)
	nameClean := c.Normalize(name)

	if domainClean == "" {
		return "", fmt.Errorf("%w: domain empty after normalization", errors.ErrInvalidAddress)
	}
	if channelClean == "" {
		return "", fmt.Errorf("%w: channel empty after normalization", errors.ErrInvalidAddress)
	}
	if nameClean == "" {
		return "", fmt.Errorf("%w: name empty after normalization", errors.ErrInvalidAddress)
	}

	s := c.prefix + "." + domainClean + "." + channelClean + "." + nameClean
	if len(s) > MaxSubjectLength {
		return "", fmt.Errorf("%w: subject length %d exceeds limit %d",
			errors.ErrInvalidAddress, len(s), MaxSubjectLength)
	}

	return s, nil
}

// Parse splits a subject built by Build back into its components. Domain
// reconstruction uses the tldSuffixes allow-list: when the second token
// after the prefix is a known suffix the first two tokens are joined into a
// dotted domain, otherwise the domain is a single token.
func (c Codec) Parse(s string) (Components, error) {
	if s == "" {
		return Components{}, fmt.Errorf("%w: empty subject", errors.ErrInvalidAddress)
	}

	if !strings.HasPrefix(s, c.prefix+".") {
		return Components{}, fmt.Errorf("%w: expected prefix %q, got %q",
			errors.ErrInvalidAddress, c.prefix, s)
	}

	tokens := strings.Split(s[len(c.prefix)+1:], ".")
	if len(tokens) < 3 {
		return Components{}, fmt.Errorf("%w: expected <prefix>.<domain>.<channel>.<name>, got %q",
			errors.ErrInvalidAddress, s)
	}

	var parsed Components
	parsed.Prefix = c.prefix

	if _, ok := tldSuffixes[tokens[1]]; ok && len(tokens) >= 4 {
		parsed.Domain = tokens[0] + "." + tokens[1]
		parsed.Channel = tokens[2]
		parsed.Name = strings.Join(tokens[3:], ".")
	} else {
		parsed.Domain = tokens[0]
		parsed.Channel = tokens[1]
		parsed.Name = strings.Join(tokens[2:], ".")
	}

	if parsed.Channel == "" || parsed.Name == "" {
		return Components{}, fmt.Errorf("%w: expected <prefix>.<domain>.<channel>.<name>, got %q",
			errors.ErrInvalidAddress, s)
	}

	return parsed, nil
}

// WildcardSubject returns "<prefix>.<domain>.<channel>.>" for subscribing to
// every name under a channel.
func (c Codec) WildcardSubject(domain, channel string) (string, error) {
	domainClean := strings.TrimSpace(strings.ToLower(domain))
	channelClean := c.Normalize(channel)

	if domainClean == "" {
		return "", fmt.Errorf("%w: domain empty after normalization", errors.ErrInvalidAddress)
	}
	if channelClean == "" {
		return "", fmt.Errorf("%w: channel empty after normalization", errors.ErrInvalidAddress)
	}

	return c.prefix + "." + domainClean + "." + channelClean + ".>", nil
}

// Package-level helpers using the default event codec.

var defaultCodec = NewCodec(DefaultEventPrefix)

// Normalize sanitizes a token using the default codec.
func Normalize(token string) string {
	return defaultCodec.Normalize(token)
}

// Build assembles an event subject using the default event prefix.
func Build(domain, channel, name string) (string, error) {
	return defaultCodec.Build(domain, channel, name)
}

// Parse parses an event subject using the default event prefix.
func Parse(s string) (Components, error) {
	return defaultCodec.Parse(s)
}
