package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/saltyorg/quicksell/internal/database"
	"github.com/saltyorg/quicksell/internal/entity"
	"github.com/saltyorg/quicksell/internal/models"
	"github.com/saltyorg/quicksell/internal/web/middleware"
)

// minTitleSearch is the shortest title fragment used as a filter.
const minTitleSearch = 3

type listingResponse struct {
	*models.Listing
	Seller   uuid.UUID `json:"seller"`
	Category string    `json:"category"`
}

// describeListings resolves the seller and category of each listing with
// one query per referenced table.
func (h *Handlers) describeListings(r *http.Request, s *database.Session, listings []*models.Listing) ([]listingResponse, error) {
	sellerIDs := make([]int64, 0, len(listings))
	categoryIDs := make([]int64, 0, len(listings))
	for _, l := range listings {
		sellerIDs = append(sellerIDs, l.SellerID)
		categoryIDs = append(categoryIDs, l.CategoryID)
	}

	sellers, err := h.models.Profiles.FetchList(r.Context(), s, entity.In("id", sellerIDs...))
	if err != nil {
		return nil, err
	}
	categories, err := h.models.Categories.FetchList(r.Context(), s, entity.In("id", categoryIDs...))
	if err != nil {
		return nil, err
	}
	sellerUUID := make(map[int64]uuid.UUID, len(sellers))
	for _, p := range sellers {
		sellerUUID[p.ID] = p.UUID
	}
	categoryName := make(map[int64]string, len(categories))
	for _, c := range categories {
		categoryName[c.ID] = c.Name
	}

	resp := make([]listingResponse, len(listings))
	for i, l := range listings {
		resp[i] = listingResponse{Listing: l, Seller: sellerUUID[l.SellerID], Category: categoryName[l.CategoryID]}
	}
	return resp, nil
}

func (h *Handlers) listingByUUID(r *http.Request, s *database.Session, id uuid.UUID) (*models.Listing, error) {
	listing, err := h.models.Listings.FetchOne(r.Context(), s, entity.Eq("uuid", id))
	if err != nil {
		return nil, err
	}
	if listing == nil || listing.State == models.ListingDeleted {
		return nil, middleware.NotFound("Listing not found")
	}
	return listing, nil
}

// ListListings returns one page of active listings matching the query filters
func (h *Handlers) ListListings(w http.ResponseWriter, r *http.Request, s *database.Session) error {
	q := r.URL.Query()
	preds := []entity.Predicate{entity.Eq("state", models.ListingActive)}

	if title := strings.TrimSpace(q.Get("title")); len([]rune(title)) >= minTitleSearch {
		preds = append(preds, entity.ILike("title", "%"+title+"%"))
	}
	minPrice, err := intParam(r, "min_price")
	if err != nil {
		return err
	}
	if minPrice != nil {
		preds = append(preds, entity.Gte("price", *minPrice))
	}
	maxPrice, err := intParam(r, "max_price")
	if err != nil {
		return err
	}
	if maxPrice != nil {
		preds = append(preds, entity.Lte("price", *maxPrice))
	}
	isNew, err := boolParam(r, "is_new")
	if err != nil {
		return err
	}
	if isNew != nil {
		preds = append(preds, entity.Eq("is_new", *isNew))
	}
	if name := q.Get("category"); name != "" {
		category, err := h.catalog.ByName(r.Context(), s, name)
		if err != nil {
			return err
		}
		if category == nil {
			return writeJSON(w, http.StatusOK, []listingResponse{})
		}
		preds = append(preds, entity.Eq("category_id", category.ID))
	}
	if seller := q.Get("seller"); seller != "" {
		id, err := uuid.Parse(seller)
		if err != nil {
			return middleware.BadRequest("seller must be a uuid")
		}
		profile, err := h.models.Profiles.FetchOne(r.Context(), s, entity.Eq("uuid", id))
		if err != nil {
			return err
		}
		if profile == nil {
			return writeJSON(w, http.StatusOK, []listingResponse{})
		}
		preds = append(preds, entity.Eq("seller_id", profile.ID))
	}

	page, err := pageParam(r)
	if err != nil {
		return err
	}
	listings, err := h.models.Listings.Paginate(r.Context(), s, orderParam(q.Get("order_by")), page, preds...)
	if err != nil {
		return err
	}
	resp, err := h.describeListings(r, s, listings)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, resp)
}

// orderParam maps the public sort keys to columns. Newest first by default.
func orderParam(v string) string {
	if v == "" {
		return "-created_at"
	}
	desc := strings.HasPrefix(v, "-")
	name := strings.TrimPrefix(v, "-")
	if name == "ts_spawn" {
		name = "created_at"
	}
	if desc {
		return "-" + name
	}
	return name
}

type listingRequest struct {
	Title       *string              `json:"title"`
	Description *string              `json:"description"`
	Price       *int64               `json:"price"`
	Category    *string              `json:"category"`
	IsNew       *bool                `json:"is_new"`
	Quantity    *int                 `json:"quantity"`
	Properties  entity.JSON          `json:"properties"`
	Location    *string              `json:"location"`
	Photos      *string              `json:"photos"`
	State       *models.ListingState `json:"state"`
}

// assignableCategory resolves a category a listing may be filed under.
func (h *Handlers) assignableCategory(r *http.Request, s *database.Session, name string) (*models.Category, error) {
	category, err := h.catalog.ByName(r.Context(), s, name)
	if err != nil {
		return nil, err
	}
	if category == nil || !category.Assignable {
		return nil, middleware.BadRequest("category '" + name + "' is not assignable")
	}
	return category, nil
}

// CreateListing publishes a listing of the current user
func (h *Handlers) CreateListing(w http.ResponseWriter, r *http.Request, s *database.Session) error {
	_, profile, err := h.currentProfile(r, s)
	if err != nil {
		return err
	}
	var req listingRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if req.Title == nil || req.Category == nil {
		return middleware.BadRequest("title and category are required")
	}
	if err := ValidateText(*req.Title, "title", 200); err != nil {
		return badRequest(err)
	}
	category, err := h.assignableCategory(r, s, *req.Category)
	if err != nil {
		return err
	}

	listing := &models.Listing{
		SellerID:   profile.ID,
		CategoryID: category.ID,
		Title:      strings.TrimSpace(*req.Title),
		Properties: req.Properties,
		Location:   req.Location,
		Photos:     req.Photos,
	}
	if req.Description != nil {
		listing.Description = *req.Description
	}
	if req.Price != nil {
		if err := ValidateNonNegative(*req.Price, "price"); err != nil {
			return badRequest(err)
		}
		listing.Price = *req.Price
	}
	if req.IsNew != nil {
		listing.IsNew = *req.IsNew
	}
	if req.Quantity != nil {
		if *req.Quantity < 1 {
			return middleware.BadRequest("quantity must be at least 1")
		}
		listing.Quantity = *req.Quantity
	}
	if listing.Location == nil {
		listing.Location = profile.Location
	}
	listing.PrepareNew(time.Now())

	if err := h.models.Listings.Insert(r.Context(), s, listing); err != nil {
		return err
	}
	return writeJSON(w, http.StatusCreated, listingResponse{Listing: listing, Seller: profile.UUID, Category: category.Name})
}

// GetListing returns a listing and counts the view once per client address
func (h *Handlers) GetListing(w http.ResponseWriter, r *http.Request, s *database.Session) error {
	id, err := uuidParam(r, "uuid")
	if err != nil {
		return err
	}
	listing, err := h.listingByUUID(r, s, id)
	if err != nil {
		return err
	}

	err = h.models.Views.Insert(r.Context(), s, &models.View{ListingID: listing.ID, IP: clientIP(r)})
	switch {
	case err == nil:
		if err := h.models.Listings.Update(r.Context(), s, listing, entity.Fields{"views": listing.Views + 1}); err != nil {
			return err
		}
	case !database.IsUniqueViolation(err):
		return err
	}

	resp, err := h.describeListings(r, s, []*models.Listing{listing})
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, resp[0])
}

// ownListing loads the listing in the URL and checks that the current user sells it.
func (h *Handlers) ownListing(r *http.Request, s *database.Session) (*models.Listing, *models.Profile, error) {
	_, profile, err := h.currentProfile(r, s)
	if err != nil {
		return nil, nil, err
	}
	id, err := uuidParam(r, "uuid")
	if err != nil {
		return nil, nil, err
	}
	listing, err := h.listingByUUID(r, s, id)
	if err != nil {
		return nil, nil, err
	}
	if listing.SellerID != profile.ID {
		return nil, nil, middleware.Forbidden("Only the seller can change this listing")
	}
	return listing, profile, nil
}

// UpdateListing changes the given listing fields
func (h *Handlers) UpdateListing(w http.ResponseWriter, r *http.Request, s *database.Session) error {
	listing, _, err := h.ownListing(r, s)
	if err != nil {
		return err
	}
	var req listingRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}

	fields := entity.Fields{}
	if req.Title != nil {
		if err := ValidateText(*req.Title, "title", 200); err != nil {
			return badRequest(err)
		}
		fields["title"] = strings.TrimSpace(*req.Title)
	}
	if req.Description != nil {
		fields["description"] = *req.Description
	}
	if req.Price != nil {
		if err := ValidateNonNegative(*req.Price, "price"); err != nil {
			return badRequest(err)
		}
		fields["price"] = *req.Price
	}
	if req.Category != nil {
		category, err := h.assignableCategory(r, s, *req.Category)
		if err != nil {
			return err
		}
		fields["category_id"] = category.ID
	}
	if req.IsNew != nil {
		fields["is_new"] = *req.IsNew
	}
	if req.Quantity != nil {
		if *req.Quantity < 1 {
			return middleware.BadRequest("quantity must be at least 1")
		}
		fields["quantity"] = *req.Quantity
	}
	if req.Properties != nil {
		fields["properties"] = req.Properties
	}
	if req.Location != nil {
		fields["location"] = *req.Location
	}
	if req.Photos != nil {
		fields["photos"] = *req.Photos
	}
	if req.State != nil {
		if *req.State == models.ListingDeleted {
			return middleware.BadRequest("use DELETE to remove a listing")
		}
		fields["state"] = *req.State
	}

	if len(fields) > 0 {
		if err := h.models.Listings.Update(r.Context(), s, listing, fields); err != nil {
			return err
		}
	}
	resp, err := h.describeListings(r, s, []*models.Listing{listing})
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, resp[0])
}

// DeleteListing removes a listing of the current user
func (h *Handlers) DeleteListing(w http.ResponseWriter, r *http.Request, s *database.Session) error {
	listing, _, err := h.ownListing(r, s)
	if err != nil {
		return err
	}
	if err := h.models.Listings.Delete(r.Context(), s, listing); err != nil {
		return err
	}
	return writeJSON(w, http.StatusNoContent, nil)
}

// CategoryTree returns the category taxonomy
func (h *Handlers) CategoryTree(w http.ResponseWriter, r *http.Request, s *database.Session) error {
	tree, err := h.catalog.Tree(r.Context(), s)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, tree)
}
