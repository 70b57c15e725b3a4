package token

import (
	"fmt"
	"strings"

	apperrors "github.com/jrsteele09/helpdesk-session/internal/errors"
)

func validateSave(tokens *Set) error {
	if tokens == nil || strings.TrimSpace(tokens.AccessToken) == "" {
		return fmt.Errorf("[token.Store.Save] %w: access token is required", apperrors.ErrMissingResponse)
	}
	return nil
}
