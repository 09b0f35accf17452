package server

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var (
	usernamePattern = regexp.MustCompile(`^[A-Za-z0-9]{3,}$`)
	passwordPattern = regexp.MustCompile(`^[A-Za-z0-9]{6,}$`)
)

// validCredentials reports whether username has at least 3 and password at
// least 6 ASCII alphanumeric characters.
func validCredentials(username, password string) bool {
	return usernamePattern.MatchString(username) && passwordPattern.MatchString(password)
}

type admin struct {
	username string
	hash     []byte
}

// IdentityRegistry is the immutable set of administrator identities.
// Admins are identified by username alone; the password only matters when
// a connecting client claims an admin's name.
type IdentityRegistry struct {
	admins []admin
}

// NewIdentityRegistry validates every credential and stores bcrypt hashes of
// the passwords. Repeated usernames keep the first entry.
func NewIdentityRegistry(creds []AdminCredential) (*IdentityRegistry, error) {
	r := &IdentityRegistry{admins: make([]admin, 0, len(creds))}
	for i, c := range creds {
		if !validCredentials(c.Username, c.Password) {
			return nil, fmt.Errorf("admin #%d (%q): %w", i, c.Username, ErrInvalidAdmin)
		}
		if r.IsAdmin(c.Username) {
			continue
		}
		hash, err := bcrypt.GenerateFromPassword(passwordDigest(c.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash password for admin %q: %w", c.Username, err)
		}
		r.admins = append(r.admins, admin{username: c.Username, hash: hash})
	}
	return r, nil
}

// IsAdmin reports whether username belongs to an admin.
func (r *IdentityRegistry) IsAdmin(username string) bool {
	_, ok := r.lookup(username)
	return ok
}

// Impersonates reports whether username is an admin's name but password is
// not that admin's password.
func (r *IdentityRegistry) Impersonates(username, password string) bool {
	a, ok := r.lookup(username)
	if !ok {
		return false
	}
	return !a.matches(password)
}

// Verify checks password against every admin whose name starts with
// prefix. Every candidate name tried while admitting prefix starts with it,
// so the result answers all impersonation questions for that admission.
// Verify is slow and must not run under the manager lock.
func (r *IdentityRegistry) Verify(prefix, password string) PasswordCheck {
	check := PasswordCheck{registry: r, matched: make(map[string]bool)}
	if r == nil {
		return check
	}
	for _, a := range r.admins {
		if strings.HasPrefix(a.username, prefix) {
			check.matched[a.username] = a.matches(password)
		}
	}
	return check
}

// PasswordCheck holds the outcome of Verify.
type PasswordCheck struct {
	registry *IdentityRegistry
	matched  map[string]bool
}

// Impersonates reports whether username is an admin's name and the
// verified password is not that admin's. Admin names outside the verified
// prefix count as impersonated.
func (c PasswordCheck) Impersonates(username string) bool {
	if !c.registry.IsAdmin(username) {
		return false
	}
	return !c.matched[username]
}

// Usernames lists the admin usernames in configuration order.
func (r *IdentityRegistry) Usernames() []string {
	names := make([]string, 0, len(r.admins))
	for _, a := range r.admins {
		names = append(names, a.username)
	}
	return names
}

func (a admin) matches(password string) bool {
	return bcrypt.CompareHashAndPassword(a.hash, passwordDigest(password)) == nil
}

// passwordDigest hex encodes the SHA-256 of password so bcrypt sees a fixed
// 64 bytes and every character of a long password counts.
func passwordDigest(password string) []byte {
	sum := sha256.Sum256([]byte(password))
	dst := make([]byte, hex.EncodedLen(len(sum)))
	hex.Encode(dst, sum[:])
	return dst
}

func (r *IdentityRegistry) lookup(username string) (admin, bool) {
	if r == nil {
		return admin{}, false
	}
	for _, a := range r.admins {
		if a.username == username {
			return a, true
		}
	}
	return admin{}, false
}
