package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/saltyorg/quicksell/internal/entity"
)

// ListingExpiration is how long a listing stays active after creation.
const ListingExpiration = 30 * 24 * time.Hour

// ListingState is the lifecycle state of a listing.
type ListingState int

const (
	ListingDraft ListingState = iota
	ListingActive
	ListingSold
	ListingClosed
	ListingDeleted
)

var listingStateNames = []string{"draft", "active", "sold", "closed", "deleted"}

func (s ListingState) String() string {
	if s < 0 || int(s) >= len(listingStateNames) {
		return fmt.Sprintf("ListingState(%d)", int(s))
	}
	return listingStateNames[s]
}

// MarshalText renders the state by name.
func (s ListingState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *ListingState) UnmarshalText(b []byte) error {
	for i, name := range listingStateNames {
		if name == string(b) {
			*s = ListingState(i)
			return nil
		}
	}
	return fmt.Errorf("unknown listing state %q", string(b))
}

// Category is one node of the listing taxonomy. Only leaves are assignable.
type Category struct {
	entity.Base
	Name       string `db:"name,unique,notnull" json:"name"`
	ParentID   *int64 `db:"parent_id,fk:Category,index" json:"-"`
	Assignable bool   `db:"assignable,notnull,default:FALSE" json:"assignable"`
}

// Listing is an item offered for sale.
type Listing struct {
	entity.Base
	UUID        uuid.UUID    `db:"uuid,unique,notnull" json:"uuid"`
	SellerID    int64        `db:"seller_id,fk:Profile,notnull,index" json:"-"`
	CategoryID  int64        `db:"category_id,fk:Category,notnull,index" json:"-"`
	State       ListingState `db:"state,notnull,default:1" json:"state"`
	ExpiresAt   time.Time    `db:"ts_expires,notnull,index" json:"ts_expires"`
	Title       string       `db:"title,notnull" json:"title"`
	Description string       `db:"description,notnull,default:''" json:"description"`
	Price       int64        `db:"price,notnull,default:0" json:"price"`
	IsNew       bool         `db:"is_new,notnull,default:FALSE" json:"is_new"`
	Quantity    int          `db:"quantity,notnull,default:1" json:"quantity"`
	Properties  entity.JSON  `db:"properties" json:"properties,omitempty"`
	Sold        int          `db:"sold,notnull,default:0" json:"sold"`
	Views       int          `db:"views,notnull,default:0" json:"views"`
	Location    *string      `db:"location" json:"location,omitempty"`
	Photos      *string      `db:"photos" json:"photos,omitempty"`
}

// PrepareNew fills the values a freshly created listing starts with.
func (l *Listing) PrepareNew(now time.Time) {
	if l.UUID == uuid.Nil {
		l.UUID = uuid.New()
	}
	if l.State == ListingDraft {
		l.State = ListingActive
	}
	if l.ExpiresAt.IsZero() {
		l.ExpiresAt = now.Add(ListingExpiration).UTC().Truncate(time.Microsecond)
	}
	if l.Quantity == 0 {
		l.Quantity = 1
	}
}

// View records that an address has seen a listing. The pair is unique so
// each address counts once.
type View struct {
	entity.Base
	ListingID int64  `db:"listing_id,fk:Listing,notnull,unique:listing_ip,ondelete:cascade" json:"-"`
	IP        string `db:"ip,notnull,unique:listing_ip" json:"-"`
}
