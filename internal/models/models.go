// Package models declares the marketplace entities and the registry that
// holds their metadata.
package models

import (
	"github.com/saltyorg/quicksell/internal/entity"
)

// Models holds one access layer per entity type plus the declared
// associations. Build it once at startup with New.
type Models struct {
	Registry *entity.Registry

	Users      *entity.Model[User]
	Profiles   *entity.Model[Profile]
	Devices    *entity.Model[Device]
	Categories *entity.Model[Category]
	Listings   *entity.Model[Listing]
	Views      *entity.Model[View]
	Chats      *entity.Model[Chat]
	Messages   *entity.Model[Message]
	Companies  *entity.Model[Company]
	Shops      *entity.Model[Shop]
	Offers     *entity.Model[Offer]

	// ChatMembers links chats to the profiles taking part in them.
	ChatMembers *entity.Association
	// Favorites links listings to the users who saved them.
	Favorites *entity.Association
}

// New registers every entity and association.
func New() *Models {
	reg := entity.NewRegistry()
	m := &Models{
		Registry:   reg,
		Users:      entity.NewModel[User](reg),
		Profiles:   entity.NewModel[Profile](reg),
		Devices:    entity.NewModel[Device](reg),
		Categories: entity.NewModel[Category](reg),
		Listings:   entity.NewModel[Listing](reg),
		Views:      entity.NewModel[View](reg),
		Chats:      entity.NewModel[Chat](reg),
		Messages:   entity.NewModel[Message](reg, entity.WithPageSize(50)),
		Companies:  entity.NewModel[Company](reg),
		Shops:      entity.NewModel[Shop](reg),
		Offers:     entity.NewModel[Offer](reg, entity.WithPageSize(entity.DefaultPageSize)),
	}
	m.ChatMembers = reg.Associate(Chat{}, Profile{})
	m.Favorites = reg.Associate(Listing{}, User{})
	return m
}
