package collection

import (
	"net/url"
	"strings"
)

// Fields is the parsed ?fields[<type>]=key1,key2 sparse-fieldset query.
// A non-empty filter admits only the listed types; each type maps to its
// requested attribute keys.
type Fields map[string]FieldSet

// FieldSet is the requested attribute keys for one type. A key ending in
// "." admits a single level of sub-keys of that attribute; the specific
// sub-keys are listed as "key.sub".
type FieldSet map[string]struct{}

// ParseFields extracts fields[<type>] parameters from a URL query.
func ParseFields(query url.Values) Fields {
	fields := Fields{}
	for param, values := range query {
		if !strings.HasPrefix(param, "fields[") || !strings.HasSuffix(param, "]") {
			continue
		}
		typeName := param[len("fields[") : len(param)-1]
		fields[typeName] = parseFieldValues(strings.Join(values, ","))
	}
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// parseFieldValues splits a comma or space separated key list. A key of the
// form "a.b" also registers "a." so that partial sub-key selection is
// recognised when filtering.
func parseFieldValues(raw string) FieldSet {
	keys := FieldSet{}
	for _, key := range strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' }) {
		keys[key] = struct{}{}
		if dot := strings.IndexByte(key, '.'); dot >= 0 && !strings.Contains(key[dot+1:], ".") {
			keys[key[:dot+1]] = struct{}{}
		}
	}
	return keys
}

// KeysFor returns the key set for a type and whether the type is admitted
// at all. A nil filter admits every type with all keys.
func (f Fields) KeysFor(typeName string) (FieldSet, bool) {
	if f == nil {
		return nil, true
	}
	keys, ok := f[typeName]
	if !ok {
		return nil, false
	}
	return keys, true
}

// Apply filters an attribute map down to the requested keys. A nil or empty
// set passes the map through unchanged. For a key registered as "key." the
// attribute must be a nested map; only sub-keys listed as "key.sub" are
// kept.
func (s FieldSet) Apply(attrs map[string]any) map[string]any {
	if len(s) == 0 {
		return attrs
	}
	out := make(map[string]any, len(s))
	for key, value := range attrs {
		if _, ok := s[key]; ok {
			out[key] = value
			continue
		}
		if _, ok := s[key+"."]; !ok {
			continue
		}
		sub, ok := value.(map[string]any)
		if !ok {
			continue
		}
		filtered := make(map[string]any)
		for subKey, subValue := range sub {
			if _, ok := s[key+"."+subKey]; ok {
				filtered[subKey] = subValue
			}
		}
		out[key] = filtered
	}
	return out
}
