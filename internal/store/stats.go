package store

import "context"

func (s *Store) CountSlotsByStatus(ctx context.Context) (map[string]int, error) {
	return s.Conn(ctx).CountSlotsByStatus()
}

func (s *Store) CountIntentsByStatus(ctx context.Context) (map[string]int, error) {
	return s.Conn(ctx).CountIntentsByStatus()
}
