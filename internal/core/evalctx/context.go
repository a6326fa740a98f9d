// Package evalctx models the per-evaluation Context a caller supplies to
// enabled?/value (spec §3). It is a value type, not a context.Context — it
// carries evaluation attributes, not request plumbing.
package evalctx

import (
	"fmt"
	"strconv"
)

// Context is the caller-supplied evaluation context. Recognized keys map to
// named fields; anything else lands in Custom for custom_attributes matching.
type Context struct {
	UserID          string
	Group           string
	Role            string
	Tags            []string
	IPAddress       string
	AllowDeprecated bool

	// Custom holds arbitrary caller-supplied attributes matched against a
	// flag's custom_attributes targeting rules.
	Custom map[string]any
}

// Subject is the capability interface design note §9 calls for: callers with
// a domain type can implement it directly instead of exposing it as a map.
// Each accessor's second return value reports whether the attribute applies;
// an implementation that has no IP address, say, returns ("", false).
type Subject interface {
	UserID() (string, bool)
	Group() (string, bool)
	Role() (string, bool)
	IPAddress() (string, bool)
	Tags() ([]string, bool)
}

// reservedKeys are extracted into named Context fields; anything else in a
// map[string]any is copied into Custom for custom-attribute matching.
var reservedKeys = map[string]struct{}{
	"id": {}, "user_id": {}, "group": {}, "role": {},
	"ip_address": {}, "tags": {}, "tag_ids": {}, "tag_names": {},
	"allow_deprecated": {},
}

// FromMap derives a Context from a plain mapping, per spec §4.7
// enabled_for?: pick id|user_id, group, role, ip_address, tags|tag_ids|
// tag_names; copy remaining keys verbatim into Custom.
func FromMap(m map[string]any) Context {
	ctx := Context{Custom: make(map[string]any)}

	if v, ok := firstString(m, "user_id", "id"); ok {
		ctx.UserID = v
	}
	if v, ok := m["group"]; ok {
		ctx.Group = stringify(v)
	}
	if v, ok := m["role"]; ok {
		ctx.Role = stringify(v)
	}
	if v, ok := m["ip_address"]; ok {
		ctx.IPAddress = stringify(v)
	}
	if v, ok := firstTags(m, "tags", "tag_ids", "tag_names"); ok {
		ctx.Tags = v
	}
	if v, ok := m["allow_deprecated"]; ok {
		ctx.AllowDeprecated = truthy(v)
	}

	for k, v := range m {
		if _, reserved := reservedKeys[k]; reserved {
			continue
		}
		ctx.Custom[k] = v
	}
	return ctx
}

// FromSubject derives a Context from the capability interface.
func FromSubject(s Subject) Context {
	ctx := Context{Custom: make(map[string]any)}
	if v, ok := s.UserID(); ok {
		ctx.UserID = v
	}
	if v, ok := s.Group(); ok {
		ctx.Group = v
	}
	if v, ok := s.Role(); ok {
		ctx.Role = v
	}
	if v, ok := s.IPAddress(); ok {
		ctx.IPAddress = v
	}
	if v, ok := s.Tags(); ok {
		ctx.Tags = v
	}
	return ctx
}

// FromScalar treats an integer-like value as a user_id, per spec §4.7.
func FromScalar(v any) Context {
	return Context{UserID: stringify(v), Custom: map[string]any{}}
}

// Merge overlays extra on top of base; non-zero fields in extra win, and
// Custom keys from extra override same-named base keys.
func Merge(base, extra Context) Context {
	out := base
	if extra.UserID != "" {
		out.UserID = extra.UserID
	}
	if extra.Group != "" {
		out.Group = extra.Group
	}
	if extra.Role != "" {
		out.Role = extra.Role
	}
	if extra.IPAddress != "" {
		out.IPAddress = extra.IPAddress
	}
	if len(extra.Tags) > 0 {
		out.Tags = extra.Tags
	}
	if extra.AllowDeprecated {
		out.AllowDeprecated = true
	}
	merged := make(map[string]any, len(base.Custom)+len(extra.Custom))
	for k, v := range base.Custom {
		merged[k] = v
	}
	for k, v := range extra.Custom {
		merged[k] = v
	}
	out.Custom = merged
	return out
}

func firstString(m map[string]any, keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return stringify(v), true
		}
	}
	return "", false
}

func firstTags(m map[string]any, keys ...string) ([]string, bool) {
	for _, k := range keys {
		v, ok := m[k]
		if !ok {
			continue
		}
		switch t := v.(type) {
		case []string:
			return t, true
		case []any:
			out := make([]string, 0, len(t))
			for _, item := range t {
				out = append(out, stringify(item))
			}
			return out, true
		}
	}
	return nil, false
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t != "" && t != "false" && t != "0"
	case int:
		return t != 0
	default:
		return v != nil
	}
}
