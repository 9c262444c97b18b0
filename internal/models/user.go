package models

// User is an operator allowed to use the REST API.
type User struct {
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
	IsAdmin      bool   `json:"isAdmin"`
}
