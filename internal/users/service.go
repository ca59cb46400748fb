package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const defaultMaxUsernameLength = 150

// ErrUserNotFound indicates no local user matched the lookup.
var ErrUserNotFound = errors.New("users: user not found")

// ServiceConfig describes the dependencies required for the user service.
type ServiceConfig struct {
	Database *gorm.DB
	// MaxUsernameLength bounds stored usernames; longer values are hard cut.
	MaxUsernameLength int
}

// Service manages local user records on behalf of the identity resolver.
type Service struct {
	db          *gorm.DB
	maxUsername int
}

// NewService constructs the user service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	maxUsername := cfg.MaxUsernameLength
	if maxUsername <= 0 {
		maxUsername = defaultMaxUsernameLength
	}
	return &Service{
		db:          cfg.Database,
		maxUsername: maxUsername,
	}, nil
}

// Create persists a new user. The username is truncated to the configured
// maximum before storage.
func (s *Service) Create(ctx context.Context, username, email, givenName, familyName string) (*User, error) {
	username = s.TruncateUsername(username)
	if username == "" {
		return nil, fmt.Errorf("users: username required")
	}

	user := User{
		ID:         uuid.NewString(),
		Username:   username,
		Email:      normalize(email),
		GivenName:  normalize(givenName),
		FamilyName: normalize(familyName),
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByID returns the user with the given id.
func (s *Service) FindByID(ctx context.Context, id string) (*User, error) {
	var user User
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByEmail returns the user with an exact email match.
func (s *Service) FindByEmail(ctx context.Context, email string) (*User, error) {
	var user User
	err := s.db.WithContext(ctx).Where("email = ?", normalize(email)).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateNames overwrites both name fields.
func (s *Service) UpdateNames(ctx context.Context, user *User, givenName, familyName string) error {
	updates := map[string]interface{}{
		"given_name":  normalize(givenName),
		"family_name": normalize(familyName),
	}
	if err := s.db.WithContext(ctx).Model(&User{}).Where("id = ?", user.ID).Updates(updates).Error; err != nil {
		return err
	}
	user.GivenName = normalize(givenName)
	user.FamilyName = normalize(familyName)
	return nil
}

// UpdateUsername replaces the stored username, applying truncation.
func (s *Service) UpdateUsername(ctx context.Context, user *User, username string) error {
	username = s.TruncateUsername(username)
	if username == "" {
		return fmt.Errorf("users: username required")
	}
	if err := s.db.WithContext(ctx).Model(&User{}).Where("id = ?", user.ID).Update("username", username).Error; err != nil {
		return err
	}
	user.Username = username
	return nil
}

// TruncateUsername hard-cuts the value at the configured maximum length.
func (s *Service) TruncateUsername(username string) string {
	username = normalize(username)
	if len(username) > s.maxUsername {
		return username[:s.maxUsername]
	}
	return username
}

// SplitFullName splits a display name on the first whitespace boundary.
// Everything after the first space becomes the family name, embedded spaces
// included.
func SplitFullName(fullName string) (string, string) {
	fullName = normalize(fullName)
	if fullName == "" {
		return "", ""
	}
	parts := strings.SplitN(fullName, " ", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}
