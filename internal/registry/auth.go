package registry

// TokenAuth resolves static bearer tokens to user ids. Tokens come from the
// config file plus TRACELIGHT_ADMIN_TOKEN; there is no identity service
// behind this, which is all a single-team deployment needs.
type TokenAuth struct {
	users map[string]string
}

func NewTokenAuth(tokens map[string]string) *TokenAuth {
	users := make(map[string]string, len(tokens))
	for tok, user := range tokens {
		if tok == "" || user == "" {
			continue
		}
		users[tok] = user
	}
	return &TokenAuth{users: users}
}

// UserForToken returns the user a token authenticates, if any.
func (a *TokenAuth) UserForToken(token string) (string, bool) {
	user, ok := a.users[token]
	return user, ok
}
