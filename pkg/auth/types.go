package auth

// Principal is the authenticated caller, constructed once per request from a
// verified bearer token and immutable for the request's duration.
type Principal struct {
	ID       string   `json:"id"`
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
	Email    string   `json:"email,omitempty"`
	FullName string   `json:"full_name,omitempty"`
}

// HasRole reports whether the principal holds the given role label.
func (p *Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}
