package api

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/dockvault/dockpilot/internal/domain/agent"
)

// newValidator returns a validator that knows the agent enums.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Registration only fails on an empty tag or nil func.
	_ = v.RegisterValidation("category", func(fl validator.FieldLevel) bool {
		return agent.Category(fl.Field().String()).Validate() == nil
	})
	_ = v.RegisterValidation("impact", func(fl validator.FieldLevel) bool {
		return agent.Impact(fl.Field().String()).Validate() == nil
	})
	_ = v.RegisterValidation("feedback_verdict", func(fl validator.FieldLevel) bool {
		return agent.FeedbackVerdict(fl.Field().String()).Validate() == nil
	})
	_ = v.RegisterValidation("autonomy_level", func(fl validator.FieldLevel) bool {
		return agent.AutonomyLevel(fl.Field().String()).Validate() == nil
	})
	return v
}

// formatValidationErrors turns validator errors into one readable message.
func formatValidationErrors(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", fe.Namespace()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s]", fe.Namespace(), fe.Param()))
		case "category", "impact", "feedback_verdict", "autonomy_level":
			msgs = append(msgs, fmt.Sprintf("%s: unknown %s %q", fe.Namespace(), fe.Tag(), fe.Value()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
		}
	}
	return errors.New("validation failed: " + strings.Join(msgs, "; "))
}
