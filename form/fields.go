package form

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"
)

// ClientFieldPrefix marks change-set keys that target the owning client's
// account instead of the form itself.
const ClientFieldPrefix = "client_"

// fieldCasts maps every editable form column to the SQL cast applied when the
// column is written from a loosely typed change set. Built once from the
// Fields struct tags so the engine and the schema cannot drift apart.
var fieldCasts = buildFieldCasts()

// clientFieldCasts lists the columns on the users table a proposal may touch
// through the client_ prefix.
var clientFieldCasts = map[string]string{
	"name":  "::text",
	"email": "::text",
	"phone": "::text",
}

func buildFieldCasts() map[string]string {
	t := reflect.TypeOf(Fields{})
	out := make(map[string]string, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		column := field.Tag.Get("db")
		if column == "" {
			continue
		}
		out[column] = castFor(field.Type)
	}
	return out
}

func castFor(t reflect.Type) string {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch {
	case t == reflect.TypeOf(time.Time{}):
		return "::date"
	case t.Kind() == reflect.Float64:
		return "::numeric"
	case t.Kind() == reflect.Bool:
		return "::boolean"
	case t.Kind() == reflect.Int:
		return "::int"
	default:
		return "::text"
	}
}

// ChangeSet is a raw change map partitioned between form-owned columns and
// client-owned columns (client_ prefix stripped).
type ChangeSet struct {
	Form   map[string]any
	Client map[string]any
}

func (c ChangeSet) Empty() bool {
	return len(c.Form) == 0 && len(c.Client) == 0
}

// SplitChanges partitions a raw change map. Keys with the client_ prefix go
// to the client partition with the prefix stripped; everything else is a form
// column.
func SplitChanges(raw map[string]any) ChangeSet {
	cs := ChangeSet{
		Form:   make(map[string]any),
		Client: make(map[string]any),
	}
	for key, value := range raw {
		if strings.HasPrefix(key, ClientFieldPrefix) {
			cs.Client[strings.TrimPrefix(key, ClientFieldPrefix)] = value
		} else {
			cs.Form[key] = value
		}
	}
	return cs
}

// FilterNulls drops nil values from a change map. Only non-null submitted
// fields overwrite existing data.
func FilterNulls(changes map[string]any) map[string]any {
	out := make(map[string]any, len(changes))
	for key, value := range changes {
		if value == nil {
			continue
		}
		out[key] = value
	}
	return out
}

// ValidateFormChanges rejects change maps containing keys that are not
// editable form columns.
func ValidateFormChanges(changes map[string]any) error {
	for key := range changes {
		if _, ok := fieldCasts[key]; !ok {
			return fmt.Errorf("%w: unknown form field %q", ErrValidation, key)
		}
	}
	return nil
}

// ValidateClientChanges rejects change maps (prefix already stripped) whose
// keys are not client account columns.
func ValidateClientChanges(changes map[string]any) error {
	for key := range changes {
		if _, ok := clientFieldCasts[key]; !ok {
			return fmt.Errorf("%w: unknown client field %q", ErrValidation, key)
		}
	}
	return nil
}

func sortedKeys(changes map[string]any) []string {
	keys := make([]string, 0, len(changes))
	for key := range changes {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
