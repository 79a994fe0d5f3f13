package validator

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

const dateLayout = "2006-01-02"

// RegisterCustomValidations installs domain validation tags on gin's binding
// engine. Call once at startup, before the router serves requests.
func RegisterCustomValidations() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return fmt.Errorf("unexpected binding validator engine %T", binding.Validator.Engine())
	}
	return v.RegisterValidation("appointmentdate", validAppointmentDate)
}

// validAppointmentDate accepts calendar dates in YYYY-MM-DD form. Range checks
// (no booking in the past) belong to the queue service, not binding.
func validAppointmentDate(fl validator.FieldLevel) bool {
	_, err := time.Parse(dateLayout, fl.Field().String())
	return err == nil
}
