package profiles

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	MaxDisplayNameLength = 100
	MaxBioLength         = 500
	MaxAvatarKeyLength   = 255
)

// UserId is the identity reference handed over by the upstream authenticator.
type UserId uuid.UUID

func ParseUserId(s string) (UserId, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return UserId{}, fmt.Errorf("parse user id: %w", err)
	}
	return UserId(id), nil
}

func (id UserId) String() string {
	return uuid.UUID(id).String()
}

func (id UserId) IsZero() bool {
	return uuid.UUID(id) == uuid.Nil
}

func (id UserId) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}

func (id *UserId) UnmarshalText(text []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(text)
}

// ProfileFields are the user editable parts shared by the record and its views.
type ProfileFields struct {
	DisplayName string
	Bio         string
}

// Profile is the authoritative record. Exactly one exists per UserId.
type Profile struct {
	Id     uuid.UUID
	UserId UserId
	ProfileFields
	// Opaque key into the blob store namespace, never a public url.
	AvatarKey string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// View hydrates the record with an already resolved avatar url ("" if absent).
func (p Profile) View(avatarUrl string) ProfileView {
	return ProfileView{
		Id:            p.Id,
		UserId:        p.UserId,
		ProfileFields: p.ProfileFields,
		AvatarUrl:     avatarUrl,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

// ProfileView is the response body and the cached snapshot of a profile.
type ProfileView struct {
	Id     uuid.UUID
	UserId UserId
	ProfileFields
	AvatarUrl string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type profileViewJson struct {
	Id          uuid.UUID `json:"id"`
	UserId      UserId    `json:"user_id"`
	DisplayName *string   `json:"display_name"`
	Bio         *string   `json:"bio"`
	AvatarUrl   *string   `json:"avatar_url"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (v ProfileView) MarshalJSON() ([]byte, error) {
	return json.Marshal(profileViewJson{
		Id:          v.Id,
		UserId:      v.UserId,
		DisplayName: nullable(v.DisplayName),
		Bio:         nullable(v.Bio),
		AvatarUrl:   nullable(v.AvatarUrl),
		CreatedAt:   v.CreatedAt,
		UpdatedAt:   v.UpdatedAt,
	})
}

func (v *ProfileView) UnmarshalJSON(data []byte) error {
	var raw profileViewJson
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = ProfileView{
		Id:     raw.Id,
		UserId: raw.UserId,
		ProfileFields: ProfileFields{
			DisplayName: deref(raw.DisplayName),
			Bio:         deref(raw.Bio),
		},
		AvatarUrl: deref(raw.AvatarUrl),
		CreatedAt: raw.CreatedAt,
		UpdatedAt: raw.UpdatedAt,
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// OptionalString keeps "field was supplied" apart from "field is empty".
// A supplied empty value clears the stored field.
type OptionalString struct {
	Value string
	Set   bool
}

func SetTo(value string) OptionalString {
	return OptionalString{Value: value, Set: true}
}

// UnmarshalJSON is only invoked for present keys, so null and "" both count as supplied.
func (o *OptionalString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*o = OptionalString{Set: true}
		return nil
	}
	var value string
	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}
	*o = SetTo(value)
	return nil
}

// ProfilePatch is a partial update of a stored record.
type ProfilePatch struct {
	DisplayName OptionalString
	Bio         OptionalString
	AvatarKey   OptionalString
}

func (p ProfilePatch) Empty() bool {
	return !p.DisplayName.Set && !p.Bio.Set && !p.AvatarKey.Set
}

// Apply copies supplied fields onto the profile, leaving the rest untouched.
func (p ProfilePatch) Apply(profile Profile) Profile {
	if p.DisplayName.Set {
		profile.DisplayName = p.DisplayName.Value
	}
	if p.Bio.Set {
		profile.Bio = p.Bio.Value
	}
	if p.AvatarKey.Set {
		profile.AvatarKey = p.AvatarKey.Value
	}
	return profile
}

type IconUpload struct {
	Data        []byte
	ContentType string
	Filename    string
}

// ProfileUpdate is the input of a create-or-update request.
type ProfileUpdate struct {
	DisplayName OptionalString `json:"display_name"`
	Bio         OptionalString `json:"bio"`
	Icon        *IconUpload    `json:"-"`
}

func (u ProfileUpdate) Validate() error {
	if !u.DisplayName.Set && !u.Bio.Set && u.Icon == nil {
		return &BadRequestError{Reason: "No fields supplied"}
	}
	if utf8.RuneCountInString(u.DisplayName.Value) > MaxDisplayNameLength {
		return &BadRequestError{Reason: fmt.Sprintf("display_name is longer than %d characters", MaxDisplayNameLength)}
	}
	if utf8.RuneCountInString(u.Bio.Value) > MaxBioLength {
		return &BadRequestError{Reason: fmt.Sprintf("bio is longer than %d characters", MaxBioLength)}
	}
	if u.Icon != nil && len(u.Icon.Data) == 0 {
		return &BadRequestError{Reason: "Invalid image file", Err: ErrEmptyIcon}
	}
	return nil
}

type ProfileStore interface {
	// Absent records are reported with found == false and a nil error.
	ByUserId(ctx context.Context, userId UserId) (profile Profile, found bool, err error)

	// Insert fails with ErrConflict if the user already has a record.
	Insert(ctx context.Context, profile Profile) (Profile, error)

	// Update writes the supplied patch fields and always refreshes UpdatedAt.
	Update(ctx context.Context, current Profile, patch ProfilePatch) (Profile, error)
}

type ProfileService interface {
	OwnProfile(ctx context.Context, userId UserId) (ProfileView, error)

	ProfileByUserId(ctx context.Context, userId UserId) (ProfileView, error)

	SaveOwnProfile(ctx context.Context, userId UserId, update ProfileUpdate) (ProfileView, error)
}
