package accounts

import "time"

// MicrosoftAccount binds one Microsoft identity (by immutable subject id) to
// at most one local user. Accounts can exist unlinked.
type MicrosoftAccount struct {
	MicrosoftID string    `gorm:"column:microsoft_id;primaryKey;size:64;not null"`
	UserID      *string   `gorm:"column:user_id;size:36;uniqueIndex"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing Microsoft account links.
func (MicrosoftAccount) TableName() string {
	return "microsoft_accounts"
}

// Linked reports whether the account has an owning user.
func (a MicrosoftAccount) Linked() bool {
	return a.UserID != nil
}

// XboxLiveAccount binds one Xbox Live identity (by immutable xbox id) to at
// most one local user. The gamertag is mutable upstream and is refreshed on
// every successful authentication.
type XboxLiveAccount struct {
	XboxID    string    `gorm:"column:xbox_id;primaryKey;size:32;not null"`
	Gamertag  string    `gorm:"column:gamertag;size:64;not null"`
	UserID    *string   `gorm:"column:user_id;size:36;uniqueIndex"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing Xbox Live account links.
func (XboxLiveAccount) TableName() string {
	return "xbox_live_accounts"
}

// Linked reports whether the account has an owning user.
func (a XboxLiveAccount) Linked() bool {
	return a.UserID != nil
}
