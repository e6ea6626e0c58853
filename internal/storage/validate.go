package storage

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"hostwatch/internal/reminder"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

type subscriptionInput struct {
	Name    string `validate:"required,max=200"`
	URL     string `validate:"omitempty,max=500,url"`
	Brand   string `validate:"max=100"`
	Expires string `validate:"required,datetime=2006-01-02"`
}

func normalize(in NewSubscription) NewSubscription {
	in.Name = strings.TrimSpace(in.Name)
	in.URL = strings.TrimSpace(in.URL)
	in.Brand = strings.Join(strings.Fields(in.Brand), " ")
	return in
}

func validateNew(in NewSubscription) error {
	return checkInput(subscriptionInput{
		Name:    in.Name,
		URL:     in.URL,
		Brand:   in.Brand,
		Expires: in.ExpiresAt.String(),
	})
}

// validatePatched checks the subscription as it would look after p.
func validatePatched(cur reminder.Subscription, p Patch) (reminder.Subscription, error) {
	if p.Name != nil {
		cur.Name = strings.TrimSpace(*p.Name)
	}
	if p.URL != nil {
		cur.URL = strings.TrimSpace(*p.URL)
	}
	if p.Brand != nil {
		cur.Brand = strings.Join(strings.Fields(*p.Brand), " ")
	}
	in := subscriptionInput{Name: cur.Name, URL: cur.URL, Brand: cur.Brand, Expires: cur.ExpiresAt.String()}
	if cur.ExpiresAt.IsZero() {
		// legacy rows may lack a date; patching names must still work
		in.Expires = "1970-01-01"
	}
	return cur, checkInput(in)
}

func checkInput(in subscriptionInput) error {
	err := validatorInstance().Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	if field == "expires" {
		field = "expires_at"
	}
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "max":
		return fmt.Sprintf("%s is longer than %s characters", field, fe.Param())
	case "url":
		return field + " must be an absolute URL"
	case "datetime":
		return field + " must be YYYY-MM-DD"
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}
