package auth

import (
	"context"

	"optiquantia/internal/events"
	"optiquantia/internal/models"
)

// SignUpMetadata travels with a sign-up request.
type SignUpMetadata struct {
	DisplayName  string
	Organization string
}

// AccountHandle is returned by successful sign-in and sign-up calls.
type AccountHandle struct {
	AccountID string
	Email     string
	// Session is nil when the provider created the account without signing in.
	Session *models.SessionHandle
	// Profile is set when the provider already knows the profile row; the
	// resolver then applies it immediately instead of waiting for a notification.
	Profile *models.Profile
}

// IdentityProvider is the remote or simulated identity service.
//
// Errors should be built with Reject or Transport; FetchProfile returns an
// error wrapping ErrNotFound for missing rows.
type IdentityProvider interface {
	Name() models.ProviderMode
	CheckSession(ctx context.Context) (*models.SessionHandle, error)
	SignInWithCredentials(ctx context.Context, email, credential string) (*AccountHandle, error)
	SignUp(ctx context.Context, email, credential string, meta SignUpMetadata) (*AccountHandle, error)
	SignOut(ctx context.Context) error
	SubscribeToSessionChanges(fn func(events.SessionEvent)) (events.Subscription, error)
	FetchProfile(ctx context.Context, accountID string) (models.Profile, error)
	InsertProfile(ctx context.Context, profile models.Profile) error
	UpdateProfile(ctx context.Context, accountID string, fields models.ProfileFields) error
}

// IdentityCache persists the last known identity across restarts.
type IdentityCache interface {
	Load(ctx context.Context) (models.Identity, bool, error)
	Save(ctx context.Context, id models.Identity) error
	Clear(ctx context.Context) error
}
