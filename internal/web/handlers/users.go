package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/saltyorg/quicksell/internal/auth"
	"github.com/saltyorg/quicksell/internal/database"
	"github.com/saltyorg/quicksell/internal/entity"
	"github.com/saltyorg/quicksell/internal/models"
	"github.com/saltyorg/quicksell/internal/notification"
	"github.com/saltyorg/quicksell/internal/web/middleware"
)

type userResponse struct {
	*models.User
	Profile     *models.Profile `json:"profile"`
	AccessToken string          `json:"access_token,omitempty"`
}

type registerRequest struct {
	Email    string  `json:"email"`
	Password string  `json:"password"`
	FullName string  `json:"full_name"`
	Phone    *string `json:"phone"`
}

// Register creates an account and its profile
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request, s *database.Session) error {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if err := ValidateEmail(req.Email); err != nil {
		return badRequest(err)
	}
	if err := ValidatePassword(req.Password); err != nil {
		return badRequest(err)
	}
	if req.Phone != nil {
		if err := ValidatePhone(*req.Phone); err != nil {
			return badRequest(err)
		}
	}

	user, profile, err := h.auth.Register(r.Context(), s, auth.Registration{
		Email:    req.Email,
		Password: req.Password,
		FullName: strings.TrimSpace(req.FullName),
		Phone:    req.Phone,
	})
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusCreated, userResponse{User: user, Profile: profile, AccessToken: *user.AccessToken})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login exchanges credentials for an access token. Both form and JSON
// bodies are accepted; the email goes in the username field.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request, s *database.Session) error {
	var req loginRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := decodeJSON(r, &req); err != nil {
			return err
		}
	} else {
		req.Username = r.FormValue("username")
		req.Password = r.FormValue("password")
	}
	if req.Username == "" || req.Password == "" {
		return middleware.BadRequest("username and password are required")
	}

	token, err := h.auth.Login(r.Context(), s, req.Username, req.Password)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]string{"access_token": token, "token_type": "bearer"})
}

// Logout revokes the current access token
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request, s *database.Session) error {
	user := middleware.GetUser(r.Context())
	if err := h.auth.Logout(r.Context(), s, user); err != nil {
		return err
	}
	return writeJSON(w, http.StatusNoContent, nil)
}

// CurrentUser returns the authenticated user
func (h *Handlers) CurrentUser(w http.ResponseWriter, r *http.Request, s *database.Session) error {
	user, profile, err := h.currentProfile(r, s)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, userResponse{User: user, Profile: profile})
}

type profileUpdate struct {
	FullName *string `json:"full_name"`
	About    *string `json:"about"`
	Phone    *string `json:"phone"`
	Avatar   *string `json:"avatar"`
	Location *string `json:"location"`
	Online   *bool   `json:"online"`
}

// UpdateProfile changes the given profile fields
func (h *Handlers) UpdateProfile(w http.ResponseWriter, r *http.Request, s *database.Session) error {
	_, profile, err := h.currentProfile(r, s)
	if err != nil {
		return err
	}
	var req profileUpdate
	if err := decodeJSON(r, &req); err != nil {
		return err
	}

	fields := entity.Fields{}
	if req.FullName != nil {
		fields["full_name"] = strings.TrimSpace(*req.FullName)
	}
	if req.About != nil {
		fields["about"] = *req.About
	}
	if req.Phone != nil {
		if err := ValidatePhone(*req.Phone); err != nil {
			return badRequest(err)
		}
		fields["phone"] = *req.Phone
	}
	if req.Avatar != nil {
		fields["avatar"] = *req.Avatar
	}
	if req.Location != nil {
		fields["location"] = *req.Location
	}
	if req.Online != nil {
		fields["online"] = *req.Online
	}
	if len(fields) == 0 {
		return writeJSON(w, http.StatusOK, profile)
	}

	if err := h.models.Profiles.Update(r.Context(), s, profile, fields); err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, profile)
}

// GetProfile returns a public profile by uuid
func (h *Handlers) GetProfile(w http.ResponseWriter, r *http.Request, s *database.Session) error {
	id, err := uuidParam(r, "uuid")
	if err != nil {
		return err
	}
	profile, err := h.models.Profiles.FetchOne(r.Context(), s, entity.Eq("uuid", id))
	if err != nil {
		return err
	}
	if profile == nil {
		return middleware.NotFound("Profile not found")
	}
	return writeJSON(w, http.StatusOK, profile)
}

type passwordResetRequest struct {
	Email    string `json:"email"`
	Code     int    `json:"code,omitempty"`
	Password string `json:"password,omitempty"`
}

// RequestPasswordReset issues a reset code for the account
func (h *Handlers) RequestPasswordReset(w http.ResponseWriter, r *http.Request, s *database.Session) error {
	var req passwordResetRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if err := ValidateEmail(req.Email); err != nil {
		return badRequest(err)
	}
	code, err := h.auth.RequestPasswordReset(r.Context(), s, req.Email)
	if err != nil {
		return err
	}
	if code != 0 {
		if h.notifier == nil {
			log.Warn().Msg("Password reset code issued but no notifier is configured")
		} else {
			event := notification.Event{
				Type:      notification.EventPasswordReset,
				Recipient: strings.ToLower(strings.TrimSpace(req.Email)),
				Title:     "Password reset",
				Message:   fmt.Sprintf("Your password reset code is %d. It expires in %s.", code, auth.ResetCodeTTL),
				Fields:    map[string]string{"code": strconv.Itoa(code)},
			}
			s.AfterCommit(func() { h.notifier.Notify(event) })
		}
	}
	return writeJSON(w, http.StatusAccepted, nil)
}

// ConfirmPasswordReset sets a new password using a reset code
func (h *Handlers) ConfirmPasswordReset(w http.ResponseWriter, r *http.Request, s *database.Session) error {
	var req passwordResetRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if err := ValidatePassword(req.Password); err != nil {
		return badRequest(err)
	}
	if err := h.auth.ResetPassword(r.Context(), s, req.Email, req.Code, req.Password); err != nil {
		return err
	}
	return writeJSON(w, http.StatusNoContent, nil)
}

type favoriteRequest struct {
	ListingUUID uuid.UUID `json:"listing_uuid"`
}

// Favorites lists the listings the user saved
func (h *Handlers) Favorites(w http.ResponseWriter, r *http.Request, s *database.Session) error {
	user := middleware.GetUser(r.Context())
	ids, err := h.models.Favorites.Linked(r.Context(), s, user)
	if err != nil {
		return err
	}
	listings, err := h.models.Listings.FetchList(r.Context(), s, entity.In("id", ids...))
	if err != nil {
		return err
	}
	resp, err := h.describeListings(r, s, listings)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, resp)
}

// AddFavorite saves a listing for the user
func (h *Handlers) AddFavorite(w http.ResponseWriter, r *http.Request, s *database.Session) error {
	user := middleware.GetUser(r.Context())
	listing, err := h.favoriteTarget(r, s)
	if err != nil {
		return err
	}
	if err := h.models.Favorites.Link(r.Context(), s, listing, user); err != nil {
		return err
	}
	return writeJSON(w, http.StatusNoContent, nil)
}

// RemoveFavorite drops a saved listing
func (h *Handlers) RemoveFavorite(w http.ResponseWriter, r *http.Request, s *database.Session) error {
	user := middleware.GetUser(r.Context())
	listing, err := h.favoriteTarget(r, s)
	if err != nil {
		return err
	}
	if err := h.models.Favorites.Unlink(r.Context(), s, listing, user); err != nil {
		return err
	}
	return writeJSON(w, http.StatusNoContent, nil)
}

func (h *Handlers) favoriteTarget(r *http.Request, s *database.Session) (*models.Listing, error) {
	var req favoriteRequest
	if err := decodeJSON(r, &req); err != nil {
		return nil, err
	}
	return h.listingByUUID(r, s, req.ListingUUID)
}
