package api

import (
	"fmt"
	"sync"
	"time"

	"github.com/Domenick1991/autoservice/internal/calendar"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var registerOnce sync.Once

// RegisterValidators adds the "date" and "session" tags to gin's validator.
func RegisterValidators() error {
	var err error
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			err = fmt.Errorf("unexpected binding engine %T", binding.Validator.Engine())
			return
		}
		if err = v.RegisterValidation("date", validDate); err != nil {
			return
		}
		err = v.RegisterValidation("session", validSession)
	})
	return err
}

func validDate(fl validator.FieldLevel) bool {
	_, err := time.Parse(calendar.DateFormat, fl.Field().String())
	return err == nil
}

func validSession(fl validator.FieldLevel) bool {
	_, err := calendar.ParseSession(fl.Field().String())
	return err == nil
}
