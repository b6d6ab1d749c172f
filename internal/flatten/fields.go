package flatten

import (
	"slices"
	"strings"
)

// ── Field-level subroutines ────────────────────────────────
// All three are pure: they never mutate their input and always return a
// fresh top-level Record.

// FlattenFields merges every named object field of rec into the top level
// and removes the original field. Keys are written as "{field}_{key}",
// recursively for nested objects, with two exceptions:
//
//   - a key that already starts with the current prefix is kept as is
//     ("refund" + "refundAmount" stays "refundAmount");
//   - when the prefix is listed in noPrefix the keys are merged unprefixed.
//
// A nil noPrefix means DefaultNoPrefix, as it does in Config; pass an empty
// slice to prefix every field.
// The already-prefixed check is a plain string prefix match, so two
// different parent fields sharing a leading substring can land on the same
// column. Absent fields are skipped; null or non-object values are dropped.
func FlattenFields(fields []string, rec Record, noPrefix []string) Record {
	if noPrefix == nil {
		noPrefix = DefaultNoPrefix
	}
	out := clone(rec)
	for _, field := range fields {
		v, ok := out[field]
		if !ok {
			continue
		}
		delete(out, field)
		obj, ok := asObject(v)
		if !ok {
			continue
		}
		mergePrefixed(out, obj, field, noPrefix)
	}
	return out
}

func mergePrefixed(dst Record, src map[string]any, prefix string, noPrefix []string) {
	exempt := slices.Contains(noPrefix, prefix)
	for k, v := range src {
		key := prefixedKey(k, prefix, exempt)
		if obj, ok := asObject(v); ok {
			mergePrefixed(dst, obj, key, noPrefix)
			continue
		}
		dst[key] = v
	}
}

func prefixedKey(key, prefix string, exempt bool) string {
	switch {
	case strings.HasPrefix(key, prefix):
		return key
	case exempt:
		return key
	default:
		return prefix + "_" + key
	}
}

// ExtractReference replaces an object field that only points at another
// entity with a single scalar column: rec[field][subField] is copied to
// rec[as] and rec[field] is dropped. A null reference yields a null column;
// a field that already holds a scalar is taken as the identifier itself.
func ExtractReference(field, subField, as string, rec Record) Record {
	out := clone(rec)
	v, ok := out[field]
	if !ok {
		return out
	}
	delete(out, field)

	switch KindOf(v) {
	case KindNull:
		out[as] = nil
	case KindScalar:
		out[as] = v
	case KindObject:
		obj, _ := asObject(v)
		out[as] = obj[subField]
	}
	return out
}

// StringifyLists returns rec with every list value replaced by its JSON
// text. Lists of records are stringified too; callers that want those
// split into child tables must declare a Relationship instead.
func StringifyLists(rec Record) Record {
	out := clone(rec)
	for k, v := range out {
		if KindOf(v) == KindList {
			out[k] = encodeValue(v)
		}
	}
	return out
}

// scalarize is the final coercion applied to every emitted row: lists and
// any objects nobody asked to flatten become JSON text.
func scalarize(rec Record) map[string]any {
	for k, v := range rec {
		switch KindOf(v) {
		case KindList, KindObject:
			rec[k] = encodeValue(v)
		}
	}
	return rec
}
