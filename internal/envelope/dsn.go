package envelope

import (
	"errors"
	"net/url"
	"strings"
)

var ErrInvalidDSN = errors.New("invalid DSN")

// DSN is the client-side address SDKs are configured with:
// scheme://public_key@host/.../project_id.
type DSN struct {
	Scheme    string
	PublicKey string
	Host      string
	ProjectID string
}

// ParseDSN splits a DSN into its parts. The public key is the userinfo
// portion and the project id is the last path segment; either one missing
// makes the DSN invalid.
func ParseDSN(raw string) (DSN, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return DSN{}, ErrInvalidDSN
	}
	if u.Scheme == "" || u.Host == "" || u.User == nil {
		return DSN{}, ErrInvalidDSN
	}
	key := u.User.Username()
	if key == "" {
		return DSN{}, ErrInvalidDSN
	}
	segs := strings.Split(strings.Trim(u.Path, "/"), "/")
	project := segs[len(segs)-1]
	if project == "" {
		return DSN{}, ErrInvalidDSN
	}
	return DSN{
		Scheme:    u.Scheme,
		PublicKey: key,
		Host:      u.Host,
		ProjectID: project,
	}, nil
}
