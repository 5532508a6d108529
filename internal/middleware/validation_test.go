package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reviewBody struct {
	Rating  int    `json:"rating" validate:"required,gte=1,lte=5"`
	Comment string `json:"comment" validate:"required"`
}

type signupBody struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

func jsonRequest(t *testing.T, body interface{}) *http.Request {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	return httptest.NewRequest(http.MethodPost, "/test", bytes.NewReader(raw))
}

func TestProperty_RequiredFieldValidationWorks(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("missing required fields are rejected", prop.ForAll(
		func(withName, withEmail, withPassword bool) bool {
			body := map[string]interface{}{}
			if withName {
				body["name"] = "Kiran"
			}
			if withEmail {
				body["email"] = "kiran@example.com"
			}
			if withPassword {
				body["password"] = "pedal-on"
			}

			var req signupBody
			err := DecodeAndValidate(jsonRequest(t, body), &req)

			if withName && withEmail && withPassword {
				return err == nil
			}
			return err != nil && len(FormatValidationErrors(err)) > 0
		},
		gen.Bool(),
		gen.Bool(),
		gen.Bool(),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestProperty_RatingRangeValidation(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("ratings outside 1..5 are rejected", prop.ForAll(
		func(rating int) bool {
			var req reviewBody
			err := DecodeAndValidate(jsonRequest(t, map[string]interface{}{
				"rating":  rating,
				"comment": "smooth gears",
			}), &req)

			if rating >= 1 && rating <= 5 {
				return err == nil
			}
			return err != nil
		},
		gen.IntRange(-10, 15),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestFormatValidationErrors_UsesJSONFieldNames(t *testing.T) {
	var req signupBody
	err := DecodeAndValidate(jsonRequest(t, map[string]interface{}{
		"name":     "Kiran",
		"email":    "not-an-email",
		"password": "abc",
	}), &req)
	require.Error(t, err)

	errs := FormatValidationErrors(err)
	require.Len(t, errs, 2)
	assert.Equal(t, ValidationError{Field: "email", Message: "Invalid email format"}, errs[0])
	assert.Equal(t, ValidationError{Field: "password", Message: "Value is too short"}, errs[1])
}

func TestRespondWithDecodeError(t *testing.T) {
	var req reviewBody
	err := DecodeAndValidate(httptest.NewRequest(http.MethodPost, "/test", bytes.NewBufferString("{not json")), &req)
	require.Error(t, err)

	w := httptest.NewRecorder()
	RespondWithDecodeError(w, err)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid request body")

	err = DecodeAndValidate(jsonRequest(t, map[string]interface{}{"rating": 9}), &req)
	w = httptest.NewRecorder()
	RespondWithDecodeError(w, err)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "validation_errors")
}
