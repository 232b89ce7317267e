package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/JakeFAU/fightgraph-crawler/internal/record"
	"github.com/JakeFAU/fightgraph-crawler/internal/store"
)

// Missing replaces nil values before hashing and storage.
const Missing = "N/A"

// HashPolicy selects the fields that contribute to a record's content hash.
type HashPolicy struct {
	// ExcludeSequences drops list-valued fields, so a growing history does not create a new document.
	ExcludeSequences bool     `mapstructure:"exclude_sequences"`
	ExcludeFields    []string `mapstructure:"exclude_fields"`
}

func (p HashPolicy) excludes(key string, value any) bool {
	if key == store.HashField {
		return true
	}
	for _, f := range p.ExcludeFields {
		if f == key {
			return true
		}
	}
	return p.ExcludeSequences && isSequence(value)
}

// Policies maps variants to hash policies.
type Policies map[record.Variant]HashPolicy

// DefaultPolicies excludes sequences for participant profiles only.
func DefaultPolicies() Policies {
	return Policies{
		record.VariantOrganization:       {},
		record.VariantEvent:              {},
		record.VariantParticipantStub:    {},
		record.VariantParticipantProfile: {ExcludeSequences: true},
	}
}

// For returns the policy of a variant, or the zero policy.
func (p Policies) For(v record.Variant) HashPolicy {
	return p[v]
}

// Normalize concatenates the stringified field values in lexicographic key order.
func Normalize(fields record.Fields, policy HashPolicy) string {
	keys := make([]string, 0, len(fields))
	for k, v := range fields {
		if policy.excludes(k, v) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(stringify(fields[k]))
	}
	return b.String()
}

// ComputeHash returns the lowercase hex SHA-256 digest of normalized.
func ComputeHash(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// HashFields normalizes and hashes fields under policy.
func HashFields(fields record.Fields, policy HashPolicy) string {
	return ComputeHash(Normalize(fields, policy))
}

// NewDocument copies fields into a document, replacing top-level nil values with Missing and
// injecting the hash.
func NewDocument(fields record.Fields, hash string) store.Document {
	doc := make(store.Document, len(fields)+1)
	for k, v := range fields {
		if isNil(v) {
			doc[k] = Missing
			continue
		}
		doc[k] = v
	}
	doc[store.HashField] = hash
	return doc
}

func stringify(v any) string {
	if isNil(v) {
		return Missing
	}
	switch t := v.(type) {
	case string:
		return t
	case *string:
		return *t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case []string:
		parts := make([]string, len(t))
		copy(parts, t)
		return "[" + strings.Join(parts, ", ") + "]"
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		parts := make([]string, rv.Len())
		for i := range parts {
			parts[i] = stringify(rv.Index(i).Interface())
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case reflect.Map:
		keys := make([]string, 0, rv.Len())
		values := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k := fmt.Sprint(iter.Key().Interface())
			keys = append(keys, k)
			values[k] = iter.Value().Interface()
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + ": " + stringify(values[k])
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32:
		return strconv.FormatInt(rv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10)
	case reflect.Float32:
		return strconv.FormatFloat(rv.Float(), 'f', -1, 32)
	default:
		return fmt.Sprint(v)
	}
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}

func isSequence(v any) bool {
	if v == nil {
		return false
	}
	k := reflect.TypeOf(v).Kind()
	return k == reflect.Slice || k == reflect.Array
}
