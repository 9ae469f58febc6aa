package onboarding

import (
	"context"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ProfileSink holds step-one answers until the funding step persists them.
type ProfileSink interface {
	ApplyProfile(uid, firstName, lastName string) error
}

// ProfileInput is what the first onboarding step collects.
type ProfileInput struct {
	UID       string `json:"-"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// SaveProfile records the user's name on their session and moves them to the
// funding step. Nothing is written to the store.
func SaveProfile(ctx context.Context, sink ProfileSink, in ProfileInput) error {
	var missing []string
	if strings.TrimSpace(in.UID) == "" {
		missing = append(missing, "uid")
	}
	if strings.TrimSpace(in.FirstName) == "" {
		missing = append(missing, "first_name")
	}
	if strings.TrimSpace(in.LastName) == "" {
		missing = append(missing, "last_name")
	}
	if len(missing) > 0 {
		return &ValidationError{Fields: missing}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return sink.ApplyProfile(in.UID, normalizeName(in.FirstName), normalizeName(in.LastName))
}

// normalizeName trims and NFC-normalizes a name so composed and decomposed
// input store the same bytes.
func normalizeName(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
