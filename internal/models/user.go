package models

import (
	"github.com/google/uuid"

	"github.com/saltyorg/quicksell/internal/entity"
)

// User is an account. Email and access token are unique so lookups by
// either resolve to at most one row.
type User struct {
	entity.Base
	Email                  string  `db:"email,unique,notnull" json:"email"`
	AccessToken            *string `db:"access_token,unique" json:"-"`
	PasswordHash           string  `db:"password_hash,notnull" json:"-"`
	IsActive               bool    `db:"is_active,notnull,default:TRUE" json:"is_active"`
	IsEmailVerified        bool    `db:"is_email_verified,notnull,default:FALSE" json:"is_email_verified"`
	IsStaff                bool    `db:"is_staff,notnull,default:FALSE" json:"-"`
	IsAdmin                bool    `db:"is_admin,notnull,default:FALSE" json:"-"`
	PasswordResetCode      *int    `db:"password_reset_code" json:"-"`
	PasswordResetRequestTS *int64  `db:"password_reset_request_ts" json:"-"`
	Balance                int64   `db:"balance,notnull,default:0" json:"balance"`
}

// Profile is the public part of a user.
type Profile struct {
	entity.Base
	UserID   int64     `db:"user_id,fk:User,unique,notnull" json:"-"`
	UUID     uuid.UUID `db:"uuid,unique,notnull" json:"uuid"`
	Phone    *string   `db:"phone,unique" json:"phone,omitempty"`
	FullName string    `db:"full_name,notnull,default:''" json:"full_name"`
	About    string    `db:"about,notnull,default:''" json:"about"`
	Online   bool      `db:"online,notnull,default:TRUE" json:"online"`
	Rating   int       `db:"rating,notnull,default:0" json:"rating"`
	Avatar   *string   `db:"avatar" json:"avatar,omitempty"`
	Location *string   `db:"location" json:"location,omitempty"`
}

// DevicePlatform is the operating system of a push-notification device.
type DevicePlatform int

const (
	PlatformOther DevicePlatform = iota
	PlatformAndroid
	PlatformIOS
)

func (p DevicePlatform) String() string {
	switch p {
	case PlatformAndroid:
		return "android"
	case PlatformIOS:
		return "ios"
	default:
		return "other"
	}
}

// Device is a registered push-notification target of a user.
type Device struct {
	entity.Base
	OwnerID    int64          `db:"owner_id,fk:User,notnull,index,ondelete:cascade" json:"-"`
	FCMID      string         `db:"fcm_id,notnull,index" json:"fcm_id"`
	Platform   DevicePlatform `db:"platform,notnull,default:0" json:"platform"`
	IsActive   bool           `db:"is_active,notnull,default:TRUE" json:"is_active"`
	FailsCount int            `db:"fails_count,notnull,default:0" json:"-"`
}
