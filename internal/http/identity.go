package http

import (
	"errors"
	"net/http"
	"strings"

	"tidytab/internal/core"
)

// Identity headers set by the authenticating gateway in front of this
// service. Requests without X-User-Id never reach a handler.
const (
	headerUserID    = "X-User-Id"
	headerUserEmail = "X-User-Email"
	headerUserName  = "X-User-Name"
	headerUserPhoto = "X-User-Photo"
)

var errNoIdentity = errors.New("missing identity headers")

func identityFromRequest(r *http.Request) (core.Identity, error) {
	uid := strings.TrimSpace(r.Header.Get(headerUserID))
	if uid == "" {
		return core.Identity{}, errNoIdentity
	}
	return core.Identity{
		UID:         uid,
		Email:       strings.TrimSpace(r.Header.Get(headerUserEmail)),
		DisplayName: strings.TrimSpace(r.Header.Get(headerUserName)),
		PhotoURL:    strings.TrimSpace(r.Header.Get(headerUserPhoto)),
	}, nil
}

// requireIdentity extracts the caller or answers 401 and returns false.
func requireIdentity(w http.ResponseWriter, r *http.Request) (core.Identity, bool) {
	id, err := identityFromRequest(r)
	if err != nil {
		writeErrorMessage(w, http.StatusUnauthorized, "authentication required")
		return core.Identity{}, false
	}
	return id, true
}
