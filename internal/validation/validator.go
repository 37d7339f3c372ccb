package validation

import (
	"reflect"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"
)

// New returns a validator reporting JSON field names, with the notblank tag
// and the request struct rules registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})

	// validator's required accepts "   "; tracking numbers and titles must not
	_ = v.RegisterValidation("notblank", func(fl validatorv10.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})

	v.RegisterStructValidation(createExchangeRequestValidation, CreateExchangeRequest{})

	return v
}

// createExchangeRequestValidation rejects requests addressed to oneself
func createExchangeRequestValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(CreateExchangeRequest)
	if req.SenderID != "" && req.SenderID == req.ReceiverID {
		sl.ReportError(req.ReceiverID, "receiver_id", "ReceiverID", "differs_from_sender", "")
	}
}
