package models

import (
	"github.com/google/uuid"

	"github.com/saltyorg/quicksell/internal/entity"
)

// CompanyForm is the legal form of a company.
type CompanyForm int

const (
	FormSoleProprietorship CompanyForm = iota
	FormLLC
	FormJSC
)

// Company is a business owned by a user.
type Company struct {
	entity.Base
	UUID    uuid.UUID   `db:"uuid,unique,notnull" json:"uuid"`
	OwnerID int64       `db:"owner_id,fk:User,notnull,index" json:"-"`
	Name    string      `db:"name,unique,notnull" json:"name"`
	Form    CompanyForm `db:"form,notnull" json:"form"`
	TIN     int64       `db:"tin,unique,notnull" json:"tin"`
	Address string      `db:"address,notnull" json:"address"`
	Phone   *string     `db:"phone" json:"phone,omitempty"`
	Email   *string     `db:"email" json:"email,omitempty"`
	Logo    *string     `db:"logo" json:"logo,omitempty"`
}

// Shop is a physical point of sale of a company.
type Shop struct {
	entity.Base
	UUID        uuid.UUID `db:"uuid,unique,notnull" json:"uuid"`
	CompanyID   int64     `db:"company_id,fk:Company,notnull,index,ondelete:cascade" json:"-"`
	Name        string    `db:"name,unique,notnull" json:"name"`
	Description *string   `db:"description" json:"description,omitempty"`
	Phone       string    `db:"phone,notnull" json:"phone"`
	Photo       *string   `db:"photo" json:"photo,omitempty"`
	Latitude    *float64  `db:"latitude,index" json:"latitude,omitempty"`
	Longitude   *float64  `db:"longitude,index" json:"longitude,omitempty"`
	Address     *string   `db:"address" json:"address,omitempty"`
}

// Offer is a company's price proposal for a listing.
type Offer struct {
	entity.Base
	UUID      uuid.UUID `db:"uuid,unique,notnull" json:"uuid"`
	ListingID int64     `db:"listing_id,fk:Listing,notnull,index,ondelete:cascade" json:"-"`
	CompanyID int64     `db:"company_id,fk:Company,notnull,index" json:"-"`
	Price     int64     `db:"price,notnull" json:"price"`
	Comment   *string   `db:"comment" json:"comment,omitempty"`
	Accepted  *bool     `db:"accepted" json:"accepted,omitempty"`
	Active    bool      `db:"active,notnull,default:TRUE" json:"active"`
}
