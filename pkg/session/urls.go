package session

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"zerobin/pkg/crypt"
)

var (
	ErrBadShareURL  = errors.New("not a paste URL")
	ErrBadDeleteURL = errors.New("not a delete URL")
)

// ShareURL puts the id in the path and the key in the fragment, which clients never send.
func ShareURL(origin, id string, key crypt.Key) string {
	return strings.TrimRight(origin, "/") + "/" + id + "#" + key.Encode()
}

func DeleteURL(origin, id, token string) string {
	return strings.TrimRight(origin, "/") + "/delete/" + id + "/" + token
}

// ParseShareURL splits a share URL into origin, paste id and key.
func ParseShareURL(raw string) (origin, id string, key crypt.Key, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", crypt.Key{}, fmt.Errorf("%w: %v", ErrBadShareURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", "", crypt.Key{}, fmt.Errorf("%w: missing scheme or host", ErrBadShareURL)
	}
	id = strings.Trim(u.Path, "/")
	if id == "" || strings.Contains(id, "/") {
		return "", "", crypt.Key{}, fmt.Errorf("%w: path must be /{id}", ErrBadShareURL)
	}
	key, err = crypt.KeyFromFragment(raw)
	if err != nil {
		return "", "", crypt.Key{}, err
	}
	return u.Scheme + "://" + u.Host, id, key, nil
}

func ParseDeleteURL(raw string) (origin, id, token string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", "", fmt.Errorf("%w: %v", ErrBadDeleteURL, err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if u.Scheme == "" || u.Host == "" || len(parts) != 3 || parts[0] != "delete" || parts[1] == "" || parts[2] == "" {
		return "", "", "", ErrBadDeleteURL
	}
	return u.Scheme + "://" + u.Host, parts[1], parts[2], nil
}

// ScrubFragment drops everything from the first '#'.
func ScrubFragment(raw string) string {
	before, _, _ := strings.Cut(raw, "#")
	return before
}
