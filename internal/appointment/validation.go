package appointment

import (
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const dateLayout = "2006-01-02"

type BookRequest struct {
	DoctorID    uuid.UUID `json:"doctorId" validate:"required"`
	TimeSlotID  uuid.UUID `json:"timeSlotId" validate:"required"`
	Name        string    `json:"name" validate:"omitempty,max=200"`
	Email       string    `json:"email" validate:"omitempty,email"`
	Phone       string    `json:"phone" validate:"required,max=32"`
	Gender      string    `json:"gender" validate:"required,oneof=male female other"`
	DateOfBirth string    `json:"dob" validate:"required,pastdate"`
	Address     string    `json:"address" validate:"required,max=500"`
	Note        string    `json:"note" validate:"max=500"`
}

// IntakeUpdate carries a partial edit of an appointment's intake. Nil fields are left as they are.
type IntakeUpdate struct {
	Phone       *string `json:"phone" validate:"omitempty,min=1,max=32"`
	Gender      *string `json:"gender" validate:"omitempty,oneof=male female other"`
	DateOfBirth *string `json:"dob" validate:"omitempty,pastdate"`
	Address     *string `json:"address" validate:"omitempty,min=1,max=500"`
	Note        *string `json:"note" validate:"omitempty,max=500"`
}

type Validator struct {
	validate *validator.Validate
	now      func() time.Time
}

func NewValidator() *Validator {
	v := &Validator{validate: validator.New(), now: time.Now}
	v.validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	_ = v.validate.RegisterValidation("clock", func(fl validator.FieldLevel) bool {
		_, _, err := parseClock(fl.Field().String())
		return err == nil
	})
	_ = v.validate.RegisterValidation("pastdate", func(fl validator.FieldLevel) bool {
		t, err := time.Parse(dateLayout, fl.Field().String())
		if err != nil {
			return false
		}
		return !t.After(v.now().UTC())
	})
	return v
}

// Struct validates i and returns a validation *Error carrying per-field messages.
func (v *Validator) Struct(op string, i any) error {
	err := v.validate.Struct(i)
	if err == nil {
		return nil
	}
	e := newError(KindValidation, op, ErrInvalidInput)
	e.Fields = FormatValidationErrors(err)
	return e
}

func FormatValidationErrors(err error) map[string]string {
	out := make(map[string]string)

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return out
	}
	for _, e := range verrs {
		field := e.Field()
		switch e.Tag() {
		case "required":
			out[field] = field + " is required"
		case "email":
			out[field] = field + " must be a valid email address"
		case "max":
			out[field] = field + " must be at most " + e.Param() + " characters"
		case "min":
			out[field] = field + " must be at least " + e.Param() + " characters"
		case "oneof":
			out[field] = field + " must be one of: " + e.Param()
		case "clock":
			out[field] = field + " must be a HH:MM time"
		case "pastdate":
			out[field] = field + " must be a YYYY-MM-DD date that is not in the future"
		case "gt":
			out[field] = field + " must be greater than " + e.Param()
		case "lte":
			out[field] = field + " must be less than or equal to " + e.Param()
		default:
			out[field] = field + " is invalid"
		}
	}
	return out
}
