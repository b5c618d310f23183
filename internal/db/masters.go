package db

import (
	"fmt"

	"github.com/switchyard-ci/switchyard/internal/models"
)

// Ping verifies the underlying database connection.
func (s *Store) Ping() error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return fmt.Errorf("db: access connection pool: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("db: ping: %w", err)
	}
	return nil
}

// ActiveMasters lists masters currently flagged active, oldest first.
func (s *Store) ActiveMasters() ([]models.Master, error) {
	var masters []models.Master
	if err := s.DB.Where("active = ?", true).Order("id ASC").Find(&masters).Error; err != nil {
		return nil, fmt.Errorf("db: active masters: %w", err)
	}
	return masters, nil
}
