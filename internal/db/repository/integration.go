package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"metalake/internal/domain"
)

// WriteStorageIntegration persists the storage configuration attached to a
// catalog entity. The configuration is encrypted at rest when the store was
// built with an encryptor.
func (s *Session) WriteStorageIntegration(ctx context.Context, integ domain.StorageIntegration) error {
	if err := s.requireWritable(); err != nil {
		return err
	}
	config := integ.Config
	if s.enc != nil {
		encrypted, err := s.enc.Encrypt(config)
		if err != nil {
			return fmt.Errorf("encrypt storage integration config: %w", err)
		}
		config = encrypted
	}
	_, err := s.tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO storage_integrations (catalog_id, entity_id, config) VALUES (?, ?, ?)`,
		integ.CatalogID, integ.EntityID, config,
	)
	if err != nil {
		return fmt.Errorf("write storage integration: %w", err)
	}
	return nil
}

// LoadStorageIntegration fetches the storage configuration of a catalog
// entity, decrypting it when an encryptor is configured. Returns nil without
// error when the entity has no integration.
func (s *Session) LoadStorageIntegration(ctx context.Context, catalogID, entityID int64) (*domain.StorageIntegration, error) {
	var integ domain.StorageIntegration
	err := s.tx.QueryRowContext(ctx,
		`SELECT catalog_id, entity_id, config FROM storage_integrations WHERE catalog_id = ? AND entity_id = ?`,
		catalogID, entityID,
	).Scan(&integ.CatalogID, &integ.EntityID, &integ.Config)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load storage integration: %w", err)
	}
	if s.enc != nil {
		plaintext, err := s.enc.Decrypt(integ.Config)
		if err != nil {
			return nil, fmt.Errorf("decrypt storage integration config: %w", err)
		}
		integ.Config = plaintext
	}
	return &integ, nil
}

// DeleteStorageIntegration removes the storage configuration of a catalog
// entity. Deleting an absent integration is not an error.
func (s *Session) DeleteStorageIntegration(ctx context.Context, catalogID, entityID int64) error {
	if err := s.requireWritable(); err != nil {
		return err
	}
	_, err := s.tx.ExecContext(ctx,
		`DELETE FROM storage_integrations WHERE catalog_id = ? AND entity_id = ?`,
		catalogID, entityID,
	)
	if err != nil {
		return fmt.Errorf("delete storage integration: %w", err)
	}
	return nil
}
