package validator

import (
	"fmt"
	"reflect"

	"github.com/onesdk/onesdk-go/internal/sdkerrors"
)

// errorFactory builds the field-path-carrying error appropriate to the
// side being validated (input vs. result).
type errorFactory func(fieldPath, format string, args ...any) error

// ValidateInput validates value against shape (resolving ModelRef shapes
// against models), returning an *sdkerrors.InputValidationError on
// mismatch.
func ValidateInput(shape Shape, models Models, value any) error {
	return validate(shape, models, value, "$", map[string]bool{}, func(path, format string, args ...any) error {
		return sdkerrors.NewInputValidationError(path, format, args...)
	})
}

// ValidateResult validates value against shape, returning an
// *sdkerrors.ResultValidationError on mismatch.
func ValidateResult(shape Shape, models Models, value any) error {
	return validate(shape, models, value, "$", map[string]bool{}, func(path, format string, args ...any) error {
		return sdkerrors.NewResultValidationError(path, format, args...)
	})
}

func validate(shape Shape, models Models, value any, path string, resolving map[string]bool, newErr errorFactory) error {
	switch shape.Kind {
	case KindNonNull:
		if value == nil {
			return newErr(path, "value is required")
		}
		return validate(*shape.Inner, models, value, path, resolving, newErr)

	case KindString:
		if value == nil {
			return nil
		}
		if _, ok := value.(string); !ok {
			return newErr(path, "expected a string, got %T", value)
		}
		return nil

	case KindNumber:
		if value == nil {
			return nil
		}
		switch value.(type) {
		case float64, float32, int, int32, int64:
			return nil
		default:
			return newErr(path, "expected a number, got %T", value)
		}

	case KindBoolean:
		if value == nil {
			return nil
		}
		if _, ok := value.(bool); !ok {
			return newErr(path, "expected a boolean, got %T", value)
		}
		return nil

	case KindEnum:
		if value == nil {
			return nil
		}
		for _, allowed := range shape.EnumValues {
			if reflect.DeepEqual(value, allowed) {
				return nil
			}
		}
		return newErr(path, "value %v is not one of the allowed enum values %v", value, shape.EnumValues)

	case KindList:
		if value == nil {
			return nil
		}
		arr, ok := value.([]any)
		if !ok {
			return newErr(path, "expected a list, got %T", value)
		}
		for i, elem := range arr {
			if err := validate(*shape.Element, models, elem, fmt.Sprintf("%s[%d]", path, i), map[string]bool{}, newErr); err != nil {
				return err
			}
		}
		return nil

	case KindObject:
		if value == nil {
			return nil
		}
		obj, ok := value.(map[string]any)
		if !ok {
			return newErr(path, "expected an object, got %T", value)
		}
		for name, field := range shape.Fields {
			v, present := obj[name]
			if !present {
				if field.Required {
					return newErr(path+"."+name, "missing required field %q", name)
				}
				continue
			}
			if err := validate(field.Shape, models, v, path+"."+name, map[string]bool{}, newErr); err != nil {
				return err
			}
		}
		if !shape.Open {
			for k := range obj {
				if _, known := shape.Fields[k]; !known {
					return newErr(path+"."+k, "unexpected field %q", k)
				}
			}
		}
		return nil

	case KindUnion:
		if value == nil {
			return nil
		}
		var lastErr error
		for _, variant := range shape.Variants {
			if err := validate(variant, models, value, path, map[string]bool{}, newErr); err == nil {
				return nil
			} else {
				lastErr = err
			}
		}
		if lastErr == nil {
			return newErr(path, "value matches no union variant")
		}
		return newErr(path, "value matches no union variant (last attempt: %s)", lastErr)

	case KindModelRef:
		// resolving tracks only a chain of ModelRef -> ModelRef aliases with
		// no intervening object/list/union; those reset it with a fresh set
		// since consuming real data bounds any recursion through them.
		resolved, ok := models[shape.ModelName]
		if !ok {
			return sdkerrors.NewUnexpectedError("unknown model reference %q", shape.ModelName)
		}
		if resolving[shape.ModelName] {
			return sdkerrors.NewUnexpectedError("circular model reference detected resolving %q", shape.ModelName)
		}
		resolving[shape.ModelName] = true
		defer delete(resolving, shape.ModelName)
		return validate(resolved, models, value, path, resolving, newErr)

	default:
		return sdkerrors.NewUnexpectedError("unknown shape kind %d", shape.Kind)
	}
}
