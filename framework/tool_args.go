package framework

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
)

// ArgumentError reports arguments that do not match a tool's parameters. The
// dispatcher surfaces it to the model as an invalid-parameters observation.
type ArgumentError struct {
	Tool   string
	Reason string
}

func (e *ArgumentError) Error() string {
	if e.Tool == "" {
		return "invalid arguments: " + e.Reason
	}
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, e.Reason)
}

// NewArgumentError is a convenience for tools validating by hand.
func NewArgumentError(format string, args ...interface{}) *ArgumentError {
	return &ArgumentError{Reason: fmt.Sprintf(format, args...)}
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func argValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(field reflect.StructField) string {
			name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// DecodeArgs decodes a raw argument map into T, rejecting unknown keys and
// enforcing `validate` struct tags.
func DecodeArgs[T any](args map[string]interface{}) (T, error) {
	var out T
	if args == nil {
		args = map[string]interface{}{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return out, &ArgumentError{Reason: err.Error()}
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return out, &ArgumentError{Reason: describeDecodeError(err)}
	}
	if err := argValidator().Struct(out); err != nil {
		return out, &ArgumentError{Reason: describeValidationError(err)}
	}
	return out, nil
}

// ValidateStruct applies the shared validator to any tagged struct.
func ValidateStruct(v interface{}) error {
	if err := argValidator().Struct(v); err != nil {
		return errors.New(describeValidationError(err))
	}
	return nil
}

func describeDecodeError(err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return fmt.Sprintf("%s must be %s, got %s", typeErr.Field, typeErr.Type.String(), typeErr.Value)
	}
	msg := err.Error()
	if strings.HasPrefix(msg, "json: unknown field ") {
		return "unexpected parameter " + strings.TrimPrefix(msg, "json: unknown field ")
	}
	return strings.TrimPrefix(msg, "json: ")
}

func describeValidationError(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			parts = append(parts, fmt.Sprintf("%s is required", fe.Field()))
		case "oneof":
			parts = append(parts, fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param()))
		default:
			if fe.Param() != "" {
				parts = append(parts, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			} else {
				parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
			}
		}
	}
	return strings.Join(parts, "; ")
}

var schemaReflector = jsonschema.Reflector{
	RequiredFromJSONSchemaTags: true,
	ExpandedStruct:             true,
	AllowAdditionalProperties:  true,
	DoNotReference:             true,
}

// ParametersFor derives tool parameters from an argument struct using its
// json, jsonschema and jsonschema_description tags. Field order is kept.
func ParametersFor[T any]() []ToolParameter {
	var zero T
	schema := schemaReflector.Reflect(&zero)
	if schema == nil || schema.Properties == nil {
		return nil
	}
	required := make(map[string]bool, len(schema.Required))
	for _, name := range schema.Required {
		required[name] = true
	}
	var params []ToolParameter
	for pair := schema.Properties.Oldest(); pair != nil; pair = pair.Next() {
		prop := pair.Value
		param := ToolParameter{
			Name:     pair.Key,
			Type:     "string",
			Required: required[pair.Key],
		}
		if prop != nil {
			if prop.Type != "" {
				param.Type = prop.Type
			}
			param.Description = prop.Description
			param.Default = prop.Default
		}
		params = append(params, param)
	}
	return params
}

// checkDeclaredArgs rejects missing required and undeclared parameters
// before a tool runs. Descriptors without parameters accept anything.
func checkDeclaredArgs(desc ToolDescriptor, args map[string]interface{}) error {
	if len(desc.Parameters) == 0 {
		return nil
	}
	var missing []string
	for _, p := range desc.Parameters {
		if !p.Required {
			continue
		}
		if v, ok := args[p.Name]; !ok || v == nil {
			missing = append(missing, p.Name)
		}
	}
	if len(missing) > 0 {
		return &ArgumentError{Tool: desc.Name, Reason: "missing required parameter(s): " + strings.Join(missing, ", ")}
	}
	for key := range args {
		if _, ok := desc.Parameter(key); !ok {
			return &ArgumentError{Tool: desc.Name, Reason: "unexpected parameter " + fmt.Sprintf("%q", key)}
		}
	}
	return nil
}
