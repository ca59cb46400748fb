package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// ErrAccountNotFound indicates no linked account matched the stable key.
var ErrAccountNotFound = errors.New("accounts: account not found")

// StoreConfig describes the dependencies required for the account store.
type StoreConfig struct {
	Database *gorm.DB
}

// Store persists Microsoft and Xbox Live account links. Stable keys carry
// unique constraints; GetOrCreate operations re-read after a failed insert so
// concurrent first logins for the same identity converge on one row.
type Store struct {
	db *gorm.DB
}

// NewStore constructs the account store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("accounts: database connection required")
	}
	return &Store{db: cfg.Database}, nil
}

// FindMicrosoft returns the account for a Microsoft subject id.
func (s *Store) FindMicrosoft(ctx context.Context, microsoftID string) (*MicrosoftAccount, error) {
	var account MicrosoftAccount
	err := s.db.WithContext(ctx).Where("microsoft_id = ?", microsoftID).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// GetOrCreateMicrosoft returns the account for the subject id, creating an
// unlinked one when the id has not been seen before.
func (s *Store) GetOrCreateMicrosoft(ctx context.Context, microsoftID string) (*MicrosoftAccount, error) {
	microsoftID = strings.TrimSpace(microsoftID)
	if microsoftID == "" {
		return nil, fmt.Errorf("accounts: microsoft id required")
	}

	account, err := s.FindMicrosoft(ctx, microsoftID)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return nil, err
	}

	created := MicrosoftAccount{MicrosoftID: microsoftID}
	if createErr := s.db.WithContext(ctx).Create(&created).Error; createErr != nil {
		// A concurrent attempt may have inserted the same stable key.
		if account, err = s.FindMicrosoft(ctx, microsoftID); err == nil {
			return account, nil
		}
		return nil, createErr
	}
	return &created, nil
}

// FindMicrosoftByOwner returns the account owned by the given user.
func (s *Store) FindMicrosoftByOwner(ctx context.Context, userID string) (*MicrosoftAccount, error) {
	var account MicrosoftAccount
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// SetMicrosoftOwner links the account to a user.
func (s *Store) SetMicrosoftOwner(ctx context.Context, microsoftID, userID string) error {
	return s.db.WithContext(ctx).Model(&MicrosoftAccount{}).
		Where("microsoft_id = ?", microsoftID).
		Update("user_id", userID).Error
}

// ClearMicrosoftOwner detaches the account from its owning user.
func (s *Store) ClearMicrosoftOwner(ctx context.Context, microsoftID string) error {
	return s.db.WithContext(ctx).Model(&MicrosoftAccount{}).
		Where("microsoft_id = ?", microsoftID).
		Update("user_id", nil).Error
}

// FindXbox returns the account for an Xbox user id.
func (s *Store) FindXbox(ctx context.Context, xboxID string) (*XboxLiveAccount, error) {
	var account XboxLiveAccount
	err := s.db.WithContext(ctx).Where("xbox_id = ?", xboxID).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// GetOrCreateXbox returns the account for the xbox id, creating an unlinked
// one carrying the supplied gamertag when the id has not been seen before.
func (s *Store) GetOrCreateXbox(ctx context.Context, xboxID, gamertag string) (*XboxLiveAccount, error) {
	xboxID = strings.TrimSpace(xboxID)
	if xboxID == "" {
		return nil, fmt.Errorf("accounts: xbox id required")
	}

	account, err := s.FindXbox(ctx, xboxID)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return nil, err
	}

	created := XboxLiveAccount{XboxID: xboxID, Gamertag: gamertag}
	if createErr := s.db.WithContext(ctx).Create(&created).Error; createErr != nil {
		if account, err = s.FindXbox(ctx, xboxID); err == nil {
			return account, nil
		}
		return nil, createErr
	}
	return &created, nil
}

// FindXboxByOwner returns the account owned by the given user.
func (s *Store) FindXboxByOwner(ctx context.Context, userID string) (*XboxLiveAccount, error) {
	var account XboxLiveAccount
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// UpdateGamertag writes through a changed gamertag.
func (s *Store) UpdateGamertag(ctx context.Context, xboxID, gamertag string) error {
	return s.db.WithContext(ctx).Model(&XboxLiveAccount{}).
		Where("xbox_id = ?", xboxID).
		Update("gamertag", gamertag).Error
}

// SetXboxOwner links the account to a user.
func (s *Store) SetXboxOwner(ctx context.Context, xboxID, userID string) error {
	return s.db.WithContext(ctx).Model(&XboxLiveAccount{}).
		Where("xbox_id = ?", xboxID).
		Update("user_id", userID).Error
}

// ClearXboxOwner detaches the account from its owning user.
func (s *Store) ClearXboxOwner(ctx context.Context, xboxID string) error {
	return s.db.WithContext(ctx).Model(&XboxLiveAccount{}).
		Where("xbox_id = ?", xboxID).
		Update("user_id", nil).Error
}
