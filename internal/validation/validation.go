// Package validation checks request payloads structurally before they reach
// the workflow engine.
package validation

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/pesio-ai/be-scm-requisitions/internal/errors"
	"github.com/pesio-ai/be-scm-requisitions/internal/workflow"
)

// Violation is one failed rule on one field.
type Violation struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// Result is the outcome of validating a payload.
type Result struct {
	Valid      bool        `json:"valid"`
	Violations []Violation `json:"violations,omitempty"`
}

// Error is returned when a payload fails validation. It unwraps to an
// INVALID_INPUT AppError.
type Error struct {
	Result
}

func (e *Error) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.Field+": "+v.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *Error) Unwrap() error {
	field := ""
	if len(e.Violations) > 0 {
		field = e.Violations[0].Field
	}
	return &errors.AppError{Code: errors.ErrCodeInvalidInput, Message: e.Error(), Field: field}
}

var (
	once     sync.Once
	instance *validator.Validate
)

type rule struct {
	tag string
	fn  validator.Func
}

var rules = []rule{
	{"decision", func(fl validator.FieldLevel) bool {
		switch workflow.Decision(fl.Field().String()) {
		case workflow.DecisionApprove, workflow.DecisionReject, workflow.DecisionSendInfo:
			return true
		}
		return false
	}},
	{"department", func(fl validator.FieldLevel) bool {
		return workflow.ExecutionDepartment(fl.Field().String()).IsValid()
	}},
}

func register(v *validator.Validate, rules []rule) error {
	for _, r := range rules {
		if err := v.RegisterValidation(r.tag, r.fn); err != nil {
			return fmt.Errorf("failed to register %q validation: %w", r.tag, err)
		}
	}
	return nil
}

func newValidator() (*validator.Validate, error) {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	if err := register(v, rules); err != nil {
		return nil, err
	}
	return v, nil
}

func get() *validator.Validate {
	once.Do(func() {
		v, err := newValidator()
		if err != nil {
			panic("validation: " + err.Error())
		}
		instance = v
	})
	return instance
}

// Check validates s and returns its Result.
func Check(s any) Result {
	err := get().Struct(s)
	if err == nil {
		return Result{Valid: true}
	}

	var fieldErrs validator.ValidationErrors
	if !asValidationErrors(err, &fieldErrs) {
		return Result{Valid: false, Violations: []Violation{{Field: "", Rule: "struct", Message: err.Error()}}}
	}

	out := Result{Valid: false, Violations: make([]Violation, 0, len(fieldErrs))}
	for _, fe := range fieldErrs {
		out.Violations = append(out.Violations, Violation{
			Field:   fieldPath(fe),
			Rule:    fe.Tag(),
			Message: message(fe),
		})
	}
	return out
}

// Struct validates s and returns an *Error when it is invalid.
func Struct(s any) error {
	res := Check(s)
	if res.Valid {
		return nil
	}
	return &Error{Result: res}
}

func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	if ve, ok := err.(validator.ValidationErrors); ok {
		*target = ve
		return true
	}
	return false
}

// fieldPath drops the top-level struct name from the namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "len":
		return fmt.Sprintf("must have length %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "decision":
		return "must be APPROVE, REJECT or SEND_INFO"
	case "department":
		return "must be ADMIN, FINANCE or PROCUREMENT"
	default:
		return fmt.Sprintf("failed the %s rule", fe.Tag())
	}
}
