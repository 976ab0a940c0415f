package intake

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/maatrinet/go-intake/internal/domain/wizard"
)

// Kind is the value class of a draft field.
type Kind string

const (
	KindText    Kind = "text"
	KindInt     Kind = "int"
	KindDecimal Kind = "decimal"
	KindDate    Kind = "date"
	KindFlag    Kind = "flag"
)

// DateLayout is the layout of date fields such as lmp_date.
const DateLayout = "2006-01-02"

type field struct {
	key   string
	kind  Kind
	index []int
}

type schema struct {
	fields []field
	byKey  map[string]field
}

var schemas sync.Map // reflect.Type -> *schema

// schemaOf derives the field table of a draft struct from its json and
// intake tags. Embedded sections are flattened.
func schemaOf(t reflect.Type) *schema {
	if s, ok := schemas.Load(t); ok {
		return s.(*schema)
	}

	s := &schema{byKey: make(map[string]field)}
	for _, sf := range reflect.VisibleFields(t) {
		if sf.Anonymous || !sf.IsExported() {
			continue
		}
		key, _, _ := strings.Cut(sf.Tag.Get("json"), ",")
		if key == "" || key == "-" {
			continue
		}

		f := field{key: key, index: sf.Index, kind: KindText}
		switch {
		case sf.Type.Kind() == reflect.Bool:
			f.kind = KindFlag
		case sf.Tag.Get("intake") != "":
			f.kind = Kind(sf.Tag.Get("intake"))
		}
		s.fields = append(s.fields, f)
		s.byKey[key] = f
	}

	actual, _ := schemas.LoadOrStore(t, s)
	return actual.(*schema)
}

// setField assigns value to the field named key of the struct behind ptr.
func setField(ptr any, key string, value any) error {
	v := reflect.ValueOf(ptr).Elem()
	f, ok := schemaOf(v.Type()).byKey[key]
	if !ok {
		return fmt.Errorf("%w: %q", wizard.ErrUnknownField, key)
	}
	fv := v.FieldByIndex(f.index)

	if f.kind == KindFlag {
		b, err := toFlag(value)
		if err != nil {
			return fmt.Errorf("%w %q: %v", wizard.ErrFieldType, key, err)
		}
		fv.SetBool(b)
		return nil
	}

	s, err := toText(value)
	if err != nil {
		return fmt.Errorf("%w %q: %v", wizard.ErrFieldType, key, err)
	}
	if f.kind == KindDate && s != "" {
		if _, err := time.Parse(DateLayout, s); err != nil {
			return fmt.Errorf("%w %q: expected YYYY-MM-DD", wizard.ErrFieldType, key)
		}
	}
	fv.SetString(s)
	return nil
}

func toFlag(value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		return strconv.ParseBool(strings.TrimSpace(v))
	default:
		return false, fmt.Errorf("got %T", value)
	}
}

func toText(value any) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	default:
		return "", fmt.Errorf("got %T", value)
	}
}

// normalize flattens a draft into a payload, coercing numeric strings.
// Empty or unparseable numbers take the configured fallback; a value that
// parses, zero included, is kept.
func normalize(draft any, fb Fallbacks) wizard.Payload {
	v := reflect.ValueOf(draft)
	s := schemaOf(v.Type())

	payload := make(wizard.Payload, len(s.fields))
	for _, f := range s.fields {
		fv := v.FieldByIndex(f.index)
		switch f.kind {
		case KindFlag:
			payload[f.key] = fv.Bool()
		case KindInt:
			n, err := strconv.Atoi(strings.TrimSpace(fv.String()))
			if err != nil {
				n = fb.intFor(f.key)
			}
			payload[f.key] = n
		case KindDecimal:
			x, err := strconv.ParseFloat(strings.TrimSpace(fv.String()), 64)
			if err != nil {
				x = fb.Decimal
			}
			payload[f.key] = x
		default:
			payload[f.key] = fv.String()
		}
	}
	return payload
}

// keysOf lists the draft keys of a struct type in declaration order.
func keysOf(t reflect.Type) []string {
	s := schemaOf(t)
	keys := make([]string, len(s.fields))
	for i, f := range s.fields {
		keys[i] = f.key
	}
	return keys
}

// Fallbacks are the values substituted when a numeric field is empty or
// does not parse.
type Fallbacks struct {
	Age     int
	Gravida int
	Count   int
	Decimal float64
}

// DefaultFallbacks returns age 25, gravida 1 and zero for everything else.
func DefaultFallbacks() Fallbacks {
	return Fallbacks{Age: 25, Gravida: 1}
}

func (fb Fallbacks) intFor(key string) int {
	switch key {
	case "age":
		return fb.Age
	case "gravida":
		return fb.Gravida
	default:
		return fb.Count
	}
}
