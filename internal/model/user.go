package model

import (
	"net/url"
	"strings"
	"unicode"
)

// User is the domain form of a Record.
type User struct {
	ID            int
	Name          string
	Age           int
	Location      string
	About         string
	ProfilePicURL *url.URL
}

// FromRecord derives a User from a Record. A picture reference that is not a
// valid URL reference maps to nil.
func FromRecord(r Record) User {
	return User{
		ID:            r.ID,
		Name:          r.Name,
		Age:           r.Age,
		Location:      r.Location,
		About:         r.About,
		ProfilePicURL: ParsePictureURL(r.ProfilePicURL),
	}
}

// FromRecords maps records to users, preserving order.
func FromRecords(records []Record) []User {
	users := make([]User, 0, len(records))
	for _, r := range records {
		users = append(users, FromRecord(r))
	}
	return users
}

// ParsePictureURL returns nil for empty references, references containing
// whitespace, and references that do not parse. Relative references are kept
// as is.
func ParsePictureURL(ref string) *url.URL {
	if ref == "" || strings.ContainsFunc(ref, unicode.IsSpace) {
		return nil
	}
	u, err := url.Parse(ref)
	if err != nil {
		return nil
	}
	return u
}

// PictureURL returns the picture reference as a string, or "" when absent.
func (u User) PictureURL() string {
	if u.ProfilePicURL == nil {
		return ""
	}
	return u.ProfilePicURL.String()
}

// Equal reports whether both users carry the same id and profile.
func (u User) Equal(other User) bool {
	return u.ID == other.ID && u.SameProfile(other)
}

// SameProfile compares every field except the id. Two distinct users with
// identical profiles compare equal here.
func (u User) SameProfile(other User) bool {
	return u.Name == other.Name &&
		u.Age == other.Age &&
		u.Location == other.Location &&
		u.About == other.About &&
		u.PictureURL() == other.PictureURL()
}

// UserIDs returns the ids of users in order.
func UserIDs(users []User) []int {
	ids := make([]int, len(users))
	for i, u := range users {
		ids[i] = u.ID
	}
	return ids
}
