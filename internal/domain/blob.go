package domain

import (
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
)

// init registers custom validation functions with the validator instance.
func init() {
	// Register the safepath validator to prevent directory traversal attacks.
	_ = validatorInstance.RegisterValidation("safepath", validateSafePath)
}

// validateSafePath ensures the path doesn't contain any directory traversal attempts.
func validateSafePath(fl validator.FieldLevel) bool {
	path := fl.Field().String()

	if strings.Contains(path, "..") ||
		strings.Contains(path, "~") ||
		strings.HasPrefix(path, "/") ||
		strings.Contains(path, "\\") {
		return false
	}

	// Catches more subtle issues like "uploads/./../file".
	return path == filepath.Clean(path)
}

// BlobObject describes an uploaded attachment before its URL is recorded on a
// message.
type BlobObject struct {
	OwnerID string `json:"owner_id" validate:"required"`
	Name    string `json:"name" validate:"required,min=1,max=255"`
	Path    string `json:"path" validate:"required,safepath"`
	Size    int64  `json:"size" validate:"gte=0"`
}

// Validate runs validation checks on the BlobObject using the defined tags.
func (b *BlobObject) Validate() error {
	if err := validatorInstance.Struct(b); err != nil {
		return &ValidationError{Err: err}
	}
	return nil
}
