package directories

import (
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/medleyhq/medley/pkg/models"
)

// ErrDirectoryExists is the conflict surfaced when the name-uniqueness
// check finds another directory with the requested name. The check is
// check-then-act: two concurrent writers can both pass it.
var ErrDirectoryExists = &models.HTTPError{
	Message:    "Directory already exists",
	StatusCode: 409,
}

var namePattern = regexp.MustCompile(`^[^/]+$`)

// ValidateName checks a directory name before any remote call is issued.
// Names are required, at most 128 characters, and must not contain
// slashes.
func ValidateName(name string) error {
	return validation.Validate(name,
		validation.Required.Error("name is required"),
		validation.Length(1, 128).Error("name must be between 1 and 128 characters"),
		validation.Match(namePattern).Error("name must not contain slashes"),
	)
}
