// Package identity implements name parsing and identity matching for
// mentions extracted from free text. Parsing is deliberately literal:
// titles and suffixes are ordinary tokens, because downstream matching
// depends on stable token positions, not semantic roles.
package identity

import (
	"fmt"
	"strings"

	"github.com/mosswell/kith/pkg/types"
)

// ParseName decomposes a raw display-name string into structured parts.
// Rules, applied in order:
//
//  1. collapse internal whitespace runs to a single space, trim ends
//  2. extract nickname segments: any substring delimited by single
//     quotes, double quotes, or parentheses is removed from the working
//     string and added to the nickname set (all segments, not just the
//     first)
//  3. no space left: the whole string is the first name
//  4. otherwise: first token = first name, last token = last name,
//     interior tokens = middle names in original order
//
// "Dr." and "Jr" are not recognized specially; they land wherever the
// tokenization puts them.
func ParseName(raw string) (types.NameParts, error) {
	working := strings.Join(strings.Fields(raw), " ")
	if working == "" {
		return types.NameParts{}, fmt.Errorf("empty name string")
	}

	working, nicknames := extractNicknames(working)

	// Nickname extraction can leave doubled spaces behind.
	tokens := strings.Fields(working)

	parts := types.NameParts{Nicknames: nicknames}

	switch len(tokens) {
	case 0:
		// The entire string was nickname segments, e.g. `"Spud"`.
		return parts, nil
	case 1:
		parts.FirstName = tokens[0]
	default:
		parts.FirstName = tokens[0]
		parts.LastName = tokens[len(tokens)-1]
		parts.MiddleNames = tokens[1 : len(tokens)-1]
	}

	return parts, nil
}

// extractNicknames removes every quoted or parenthesized segment from s
// and returns the remaining string plus the deduplicated segments in
// order of appearance. Unbalanced delimiters leave the remainder of the
// string untouched.
func extractNicknames(s string) (string, []string) {
	var remaining strings.Builder
	var nicknames []string
	seen := make(map[string]bool)

	add := func(nick string) {
		nick = strings.TrimSpace(nick)
		if nick != "" && !seen[nick] {
			seen[nick] = true
			nicknames = append(nicknames, nick)
		}
	}

	for i := 0; i < len(s); {
		c := s[i]

		var closer byte
		switch c {
		case '\'':
			closer = '\''
		case '"':
			closer = '"'
		case '(':
			closer = ')'
		default:
			remaining.WriteByte(c)
			i++
			continue
		}

		end := strings.IndexByte(s[i+1:], closer)
		if end < 0 {
			// Unbalanced delimiter: keep the rest verbatim.
			remaining.WriteString(s[i:])
			break
		}

		add(s[i+1 : i+1+end])
		i += end + 2
	}

	return remaining.String(), nicknames
}
