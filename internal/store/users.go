package store

import (
	"parish-system/models"

	"github.com/pocketbase/dbx"
)

func (c *Conn) GetUser(id string) (*models.User, error) {
	var u models.User
	err := c.query(
		"SELECT id, name, last_name, email, phone, document_type, document_number FROM users WHERE id = {:id}",
		dbx.Params{"id": id},
	).One(&u)
	if err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

// PutUser mirrors a profile from the user directory.
func (c *Conn) PutUser(u *models.User) error {
	_, err := c.exec(`INSERT INTO users (id, name, last_name, email, phone, document_type, document_number)
		VALUES ({:id}, {:name}, {:last}, {:email}, {:phone}, {:dtype}, {:dnum})
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name, last_name = excluded.last_name, email = excluded.email,
			phone = excluded.phone, document_type = excluded.document_type, document_number = excluded.document_number`,
		dbx.Params{
			"id":    u.ID,
			"name":  u.Name,
			"last":  u.LastName,
			"email": u.Email,
			"phone": u.Phone,
			"dtype": u.DocumentType,
			"dnum":  u.DocumentNumber,
		},
	)
	return err
}
