package commands

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"github.com/go-playground/validator/v10"

	"hostwatch/internal/reminder"
	"hostwatch/internal/storage"
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

var errUsage = errors.New("invalid arguments")

type idArgs struct {
	ID string `validate:"required,number"`
}

type renewArgs struct {
	ID      string `validate:"required,number"`
	Expires string `validate:"required,datetime=2006-01-02"`
}

type editArgs struct {
	ID    string `validate:"required,number"`
	Field string `validate:"required,oneof=name url brand"`
	Value string
}

type addArgs struct {
	Name    string `validate:"required"`
	URL     string
	Expires string `validate:"required,datetime=2006-01-02"`
	Brand   string
}

func check(v any) error {
	if err := validatorInstance().Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s (%s)", errUsage, strings.ToLower(fe.Field()), fe.Tag())
		}
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	return nil
}

func parseID(args []string) (int64, error) {
	a := idArgs{}
	if len(args) > 0 {
		a.ID = strings.TrimPrefix(args[0], "#")
	}
	if err := check(a); err != nil {
		return 0, err
	}
	return strconv.ParseInt(a.ID, 10, 64)
}

func parseRenew(args []string) (int64, reminder.Date, error) {
	a := renewArgs{}
	if len(args) > 0 {
		a.ID = strings.TrimPrefix(args[0], "#")
	}
	if len(args) > 1 {
		a.Expires = args[1]
	}
	if err := check(a); err != nil {
		return 0, reminder.Date{}, err
	}
	id, err := strconv.ParseInt(a.ID, 10, 64)
	if err != nil {
		return 0, reminder.Date{}, fmt.Errorf("%w: id", errUsage)
	}
	d, err := reminder.ParseDate(a.Expires)
	return id, d, err
}

// parseAdd reads "name | url | YYYY-MM-DD [| brand]". The url may be empty.
func parseAdd(text string) (storage.NewSubscription, error) {
	parts := strings.Split(text, "|")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if len(parts) < 3 || len(parts) > 4 {
		return storage.NewSubscription{}, fmt.Errorf("%w: want name | url | YYYY-MM-DD [| brand]", errUsage)
	}
	a := addArgs{Name: parts[0], URL: parts[1], Expires: parts[2]}
	if len(parts) == 4 {
		a.Brand = parts[3]
	}
	if err := check(a); err != nil {
		return storage.NewSubscription{}, err
	}
	d, err := reminder.ParseDate(a.Expires)
	if err != nil {
		return storage.NewSubscription{}, err
	}
	return storage.NewSubscription{Name: a.Name, URL: a.URL, Brand: a.Brand, ExpiresAt: d}, nil
}

func parseEdit(args []string, text string) (int64, storage.Patch, error) {
	a := editArgs{}
	if len(args) > 0 {
		a.ID = strings.TrimPrefix(args[0], "#")
	}
	if len(args) > 1 {
		a.Field = strings.ToLower(args[1])
	}
	a.Value = afterWords(text, 2)
	if err := check(a); err != nil {
		return 0, storage.Patch{}, err
	}
	id, err := strconv.ParseInt(a.ID, 10, 64)
	if err != nil {
		return 0, storage.Patch{}, fmt.Errorf("%w: id", errUsage)
	}
	var p storage.Patch
	switch a.Field {
	case "name":
		p.Name = &a.Value
	case "url":
		p.URL = &a.Value
	case "brand":
		p.Brand = &a.Value
	}
	return id, p, nil
}

// afterWords drops the first n words of text and keeps the rest verbatim.
func afterWords(text string, n int) string {
	rest := text
	for i := 0; i < n; i++ {
		rest = strings.TrimLeftFunc(rest, unicode.IsSpace)
		j := strings.IndexFunc(rest, unicode.IsSpace)
		if j < 0 {
			return ""
		}
		rest = rest[j:]
	}
	return strings.TrimSpace(rest)
}
