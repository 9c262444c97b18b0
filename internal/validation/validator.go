package validation

import (
	"fmt"
	"net"
	"reflect"
	"strconv"
	"strings"
)

// Validator validates structs using `validate` tags. Supported rules:
// required, min=N, max=N, oneof=a b c, ipv4. min and max bound numbers by
// value and strings by length. Nested structs and slices of structs are
// validated recursively; field paths use the yaml names.
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate validates a struct
func (v *Validator) Validate(s interface{}) error {
	val := reflect.ValueOf(s)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}

	if val.Kind() != reflect.Struct {
		return fmt.Errorf("validate expects a struct")
	}

	return v.validateStruct(val, "")
}

func (v *Validator) validateStruct(val reflect.Value, prefix string) error {
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		if !fieldType.IsExported() {
			continue
		}
		path := prefix + fieldName(fieldType)

		if tag := fieldType.Tag.Get("validate"); tag != "" {
			if err := v.validateField(field, tag); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
		}

		switch field.Kind() {
		case reflect.Struct:
			if err := v.validateStruct(field, path+"."); err != nil {
				return err
			}
		case reflect.Slice:
			if field.Type().Elem().Kind() != reflect.Struct {
				continue
			}
			for j := 0; j < field.Len(); j++ {
				if err := v.validateStruct(field.Index(j), fmt.Sprintf("%s[%d].", path, j)); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

func fieldName(f reflect.StructField) string {
	if name := strings.Split(f.Tag.Get("yaml"), ",")[0]; name != "" && name != "-" {
		return name
	}
	return f.Name
}

// validateField validates a single field
func (v *Validator) validateField(field reflect.Value, tag string) error {
	rules := strings.Split(tag, ",")

	for _, rule := range rules {
		parts := strings.SplitN(rule, "=", 2)
		ruleName := parts[0]
		arg := ""
		if len(parts) == 2 {
			arg = parts[1]
		}

		switch ruleName {
		case "required":
			if field.IsZero() {
				return fmt.Errorf("field is required")
			}

		case "min", "max":
			limit, err := strconv.ParseFloat(arg, 64)
			if err != nil {
				return fmt.Errorf("bad %s rule %q", ruleName, arg)
			}
			n, ok := measure(field)
			if !ok {
				continue
			}
			if ruleName == "min" && n < limit {
				return fmt.Errorf("must be at least %s", arg)
			}
			if ruleName == "max" && n > limit {
				return fmt.Errorf("must be at most %s", arg)
			}

		case "oneof":
			if field.Kind() != reflect.String {
				continue
			}
			allowed := strings.Fields(arg)
			if !contains(allowed, field.String()) {
				return fmt.Errorf("must be one of %s", strings.Join(allowed, ", "))
			}

		case "ipv4":
			if field.Kind() != reflect.String {
				continue
			}
			ip := net.ParseIP(field.String())
			if ip == nil || ip.To4() == nil {
				return fmt.Errorf("invalid IPv4 address %q", field.String())
			}
		}
	}

	return nil
}

func measure(field reflect.Value) (float64, bool) {
	switch field.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(field.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(field.Uint()), true
	case reflect.Float32, reflect.Float64:
		return field.Float(), true
	case reflect.String, reflect.Slice, reflect.Map:
		return float64(field.Len()), true
	}
	return 0, false
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
