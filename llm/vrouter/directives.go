package vrouter

import (
	"regexp"
	"strconv"
	"strings"
)

// DirectiveVerb is the recognized set of in-band routing markers.
type DirectiveVerb string

const (
	VerbForce             DirectiveVerb = "force"   // !provider
	VerbSticky            DirectiveVerb = "sticky"  // ?provider
	VerbDisable           DirectiveVerb = "disable" // #provider[...]
	VerbClear             DirectiveVerb = "clear"   // clear
	VerbStopMessage       DirectiveVerb = "stopmessage"
	VerbClearStopMessage  DirectiveVerb = "clearstopmessage"
)

// Directive is one parsed `<**…**>` marker.
type Directive struct {
	Verb DirectiveVerb
	// Target fields, populated for force/sticky/disable.
	ProviderID string
	KeyAlias   string
	Model      string
	// DisableIndex is set when the disable target names a pool position
	// (#provider.N) rather than a key alias or model.
	DisableIndex    int
	HasDisableIndex bool
	// StopMessageText carries the payload of /stopmessage.
	StopMessageText string
}

// markerRe matches the outer `<**...**>` envelope; the inner text is
// re-parsed per verb.
var markerRe = regexp.MustCompile(`<\*\*(.+?)\*\*>`)

// ParseDirectives extracts all recognized directives from the last user
// message's textual content. The parser is tolerant: unknown verbs are
// ignored; malformed directives are reported via the second return value
// but never make parsing fail outright (per "Parser is tolerant" in the
// design notes).
func ParseDirectives(text string) ([]Directive, []error) {
	var directives []Directive
	var errs []error

	matches := markerRe.FindAllStringSubmatch(text, -1)
	for _, m := range matches {
		inner := strings.TrimSpace(m[1])
		d, err := parseOne(inner)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if d != nil {
			directives = append(directives, *d)
		}
	}
	return directives, errs
}

// StripDirectives removes all `<**...**>` markers from text, for example
// before using the message as the actual upstream prompt content.
func StripDirectives(text string) string {
	return strings.TrimSpace(markerRe.ReplaceAllString(text, ""))
}

func parseOne(inner string) (*Directive, error) {
	if inner == "" {
		return nil, &DirectiveSyntaxError{Raw: inner, Reason: "empty directive"}
	}

	switch {
	case inner == "clear":
		return &Directive{Verb: VerbClear}, nil

	case strings.HasPrefix(inner, "!"):
		pid, alias, model := splitTarget(inner[1:])
		if pid == "" {
			return nil, &DirectiveSyntaxError{Raw: inner, Reason: "missing provider after !"}
		}
		return &Directive{Verb: VerbForce, ProviderID: pid, KeyAlias: alias, Model: model}, nil

	case strings.HasPrefix(inner, "?"):
		pid, alias, model := splitTarget(inner[1:])
		if pid == "" {
			return nil, &DirectiveSyntaxError{Raw: inner, Reason: "missing provider after ?"}
		}
		return &Directive{Verb: VerbSticky, ProviderID: pid, KeyAlias: alias, Model: model}, nil

	case strings.HasPrefix(inner, "#"):
		body := inner[1:]
		pid, rest, _ := strings.Cut(body, ".")
		if pid == "" {
			return nil, &DirectiveSyntaxError{Raw: inner, Reason: "missing provider after #"}
		}
		d := &Directive{Verb: VerbDisable, ProviderID: pid}
		if rest != "" {
			if n, err := strconv.Atoi(rest); err == nil {
				d.DisableIndex = n
				d.HasDisableIndex = true
			} else if looksLikeModel(rest) {
				d.Model = rest
			} else {
				d.KeyAlias = rest
			}
		}
		return d, nil

	case strings.HasPrefix(inner, "/stopmessage"):
		text := strings.TrimSpace(strings.TrimPrefix(inner, "/stopmessage"))
		return &Directive{Verb: VerbStopMessage, StopMessageText: text}, nil

	case inner == "/clearstopmessage":
		return &Directive{Verb: VerbClearStopMessage}, nil

	default:
		// Unknown verb: ignored, not an error.
		return nil, nil
	}
}

// splitTarget parses "provider[.keyAlias][.model]" into its parts. The
// second of two path components is treated as a model name if it contains
// "-", "/" or ":" (see looksLikeModel); otherwise as a key alias.
func splitTarget(s string) (provider, keyAlias, model string) {
	parts := strings.Split(s, ".")
	provider = parts[0]
	if len(parts) == 2 {
		if looksLikeModel(parts[1]) {
			model = parts[1]
		} else {
			keyAlias = parts[1]
		}
	} else if len(parts) >= 3 {
		keyAlias = parts[1]
		model = strings.Join(parts[2:], ".")
	}
	return
}

func looksLikeModel(s string) bool {
	return strings.Contains(s, "-") || strings.Contains(s, "/") || strings.Contains(s, ":")
}
