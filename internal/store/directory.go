package store

import (
	"context"

	"parish-system/models"
)

// GetUser reads the mirrored user directory.
func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	return s.Conn(ctx).GetUser(id)
}
