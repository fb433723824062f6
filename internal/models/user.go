package models

// UserProfile holds the display fields of a user. Users are provisioned by
// the identity provider; this service only reads them.
type UserProfile struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Image string `json:"image,omitempty"`
}

// DisplayName falls back from name to email to id.
func (u UserProfile) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	if u.Email != "" {
		return u.Email
	}
	return u.ID
}
