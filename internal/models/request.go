// Package models - API request types.
// Validation tags are enforced with go-playground/validator in the api package.
package models

// LoginRequest is the admin login body.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

// UnblockRequest removes one brute-force record. Type is one of ip,
// account or combined; combined identifiers use the form "<ip>_<account>".
type UnblockRequest struct {
	Identifier string `json:"identifier" validate:"required,max=512"`
	Type       string `json:"type" validate:"required,oneof=ip account combined"`
}
