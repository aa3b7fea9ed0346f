// Package token substitutes door-access tokens in free-text templates
// (guest messages, pre-arrival emails) with the passcodes generated for a
// reservation.
package token

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"

	"github.com/door-access-manager/backend/internal/booking"
	"github.com/door-access-manager/backend/internal/history"
	"github.com/door-access-manager/backend/internal/integration"
)

// tokenPattern matches tokens of the form {door_access: p<profileId>_<suffix>}.
var tokenPattern = regexp.MustCompile(`\{door_access:\s*p(\d+)_([A-Za-z0-9_]+)\}`)

// Parser resolves door-access tokens against the registry and the booking
// history.
type Parser struct {
	registry *integration.Registry
	reader   *history.Reader
}

// NewParser builds a parser over the registry and history store.
func NewParser(registry *integration.Registry, events history.Store) *Parser {
	return &Parser{registry: registry, reader: history.NewReader(events)}
}

// Substitute replaces every door-access token in the template with the
// booking's generated passcodes and returns the result plus the number of
// tags successfully handled. A tag whose profile, provider or history
// cannot be resolved is replaced with the empty string and not counted; a
// raw token never survives into the output.
func (p *Parser) Substitute(ctx context.Context, template string, b *booking.Snapshot) (string, int) {
	matches := tokenPattern.FindAllStringSubmatch(template, -1)
	if len(matches) == 0 {
		return template, 0
	}

	type tag struct {
		profileID int64
		full      string
	}

	seen := make(map[string]bool)
	var tags []tag
	for _, m := range matches {
		if seen[m[0]] {
			continue
		}
		seen[m[0]] = true
		id, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			id = 0
		}
		tags = append(tags, tag{profileID: id, full: m[0]})
	}

	handled := len(tags)
	out := template

	for _, t := range tags {
		value, ok := p.resolve(ctx, t.profileID, b)
		if !ok {
			handled--
		}
		out = strings.ReplaceAll(out, t.full, value)
	}

	return out, handled
}

// resolve produces the substitution value for one profile's tag. The empty
// string with ok=false marks an unresolvable tag.
func (p *Parser) resolve(ctx context.Context, profileID int64, b *booking.Snapshot) (string, bool) {
	if profileID == 0 || b == nil {
		return "", false
	}

	provider, err := p.registry.LoadProfile(ctx, profileID)
	if err != nil || provider == nil {
		if err != nil {
			log.Printf("Token substitution: profile %d unresolvable: %v", profileID, err)
		}
		return "", false
	}

	profile := provider.Profile()
	expected := integration.ExpectedPasscodeCount(profile, b.Units())
	if expected == 0 {
		return "", false
	}

	passcodes, err := p.reader.Passcodes(ctx, b.ID, profileID, expected)
	if err != nil || len(passcodes) == 0 {
		if err != nil {
			log.Printf("Token substitution: history for booking %d unresolvable: %v", b.ID, err)
		}
		return "", false
	}

	// Deduplicate while keeping the newest-first order.
	distinct := make([]history.GeneratedPasscode, 0, len(passcodes))
	known := make(map[string]bool, len(passcodes))
	for _, code := range passcodes {
		if known[code.Passcode] {
			continue
		}
		known[code.Passcode] = true
		distinct = append(distinct, code)
	}

	if len(distinct) == 1 {
		return distinct[0].Passcode, true
	}

	// Multiple devices with different codes: name each one so the guest
	// knows which door it opens.
	parts := make([]string, len(distinct))
	for i, code := range distinct {
		name := code.DeviceName
		if name == "" {
			name = code.DeviceID
		}
		parts[i] = fmt.Sprintf("%s: %s", name, code.Passcode)
	}
	return strings.Join(parts, ", "), true
}

// SpecialTags lists the tag strings available for the given profiles, one
// per profile, for the admin UI's template editor.
func SpecialTags(profiles []*integration.Profile) []string {
	tags := make([]string, 0, len(profiles))
	for _, profile := range profiles {
		tags = append(tags, fmt.Sprintf("{door_access: p%d_code}", profile.ID))
	}
	return tags
}
