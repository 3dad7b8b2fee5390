package directory

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mitigateops/platform/internal/shared/errors"
	"github.com/mitigateops/platform/internal/shared/types"
)

// Responder is a person who can be paged for an emergency.
type Responder struct {
	ID        types.ID  `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	Phone     *string   `json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasPhone reports whether an SMS can be attempted.
func (r *Responder) HasPhone() bool {
	return r.Phone != nil && strings.TrimSpace(*r.Phone) != ""
}

// HasEmail reports whether an email can be attempted.
func (r *Responder) HasEmail() bool {
	return strings.TrimSpace(r.Email) != ""
}

// Validate checks the fields required to store a responder.
func (r *Responder) Validate() error {
	details := map[string]string{}
	if r.ID.IsZero() {
		details["id"] = "required"
	}
	if strings.TrimSpace(r.Name) == "" {
		details["name"] = "required"
	}
	if r.Email != "" && !strings.Contains(r.Email, "@") {
		details["email"] = "must be an email address"
	}
	if len(details) > 0 {
		return errors.Validation("invalid responder", details)
	}
	return nil
}

// Directory resolves responders by ID. Implementations return an
// errors.NotFound error when the responder does not exist.
type Directory interface {
	Responder(ctx context.Context, id types.ID) (*Responder, error)
}

// Writer stores responders.
type Writer interface {
	SaveResponder(ctx context.Context, r *Responder) error
}

// Fallback consults Primary first. Secondary is asked for responders
// Primary does not know, and for the email or phone a Primary record lacks.
// A Secondary failure while filling in contact details is logged and the
// Primary record is returned as is.
type Fallback struct {
	Primary   Directory
	Secondary Directory
	Logger    *zap.Logger
}

func (f Fallback) Responder(ctx context.Context, id types.ID) (*Responder, error) {
	r, err := f.Primary.Responder(ctx, id)
	if f.Secondary == nil {
		return r, err
	}
	if err != nil {
		if !errors.Is(err, errors.ErrNotFound) {
			return nil, err
		}
		return f.Secondary.Responder(ctx, id)
	}
	if r.HasEmail() && r.HasPhone() {
		return r, nil
	}

	other, err := f.Secondary.Responder(ctx, id)
	if err != nil {
		if !errors.Is(err, errors.ErrNotFound) && f.Logger != nil {
			f.Logger.Warn("legacy directory lookup failed",
				zap.String("responder_id", id.String()),
				zap.Error(err),
			)
		}
		return r, nil
	}
	return mergeContact(r, other), nil
}

// mergeContact copies the email and phone base lacks from other.
func mergeContact(base, other *Responder) *Responder {
	merged := *base
	if !merged.HasEmail() && other.HasEmail() {
		merged.Email = other.Email
	}
	if !merged.HasPhone() && other.HasPhone() {
		phone := *other.Phone
		merged.Phone = &phone
	}
	return &merged
}
