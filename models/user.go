package models

import "strings"

type User struct {
	ID             string `json:"id" db:"id"`
	Name           string `json:"name" db:"name"`
	LastName       string `json:"last_name" db:"last_name"`
	Email          string `json:"email" db:"email"`
	Phone          string `json:"phone" db:"phone"`
	DocumentType   string `json:"document_type" db:"document_type"`
	DocumentNumber string `json:"document_number" db:"document_number"`
}

// MissingPayerFields lists the profile fields a gateway checkout needs but
// the user has not filled in.
func (u *User) MissingPayerFields() []string {
	var missing []string
	if strings.TrimSpace(u.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(u.LastName) == "" {
		missing = append(missing, "last_name")
	}
	if strings.TrimSpace(u.Email) == "" {
		missing = append(missing, "email")
	}
	if len(strings.TrimSpace(u.DocumentNumber)) < 5 {
		missing = append(missing, "document_number")
	}
	return missing
}
