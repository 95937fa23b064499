package repository

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"

	"metalake/internal/domain"
)

// HashSecret computes the stored hash of a principal secret. The client id is
// mixed in so equal secrets of different principals hash differently.
func HashSecret(clientID, secret string) string {
	sum := sha256.Sum256([]byte(clientID + ":" + secret))
	return hex.EncodeToString(sum[:])
}

// GeneratePrincipalSecrets creates fresh credentials for a principal and
// persists their hashes. The returned value carries the plaintext secret; it
// is the only time the plaintext is available.
func (s *Session) GeneratePrincipalSecrets(ctx context.Context, principalID int64) (*domain.PrincipalSecrets, error) {
	if err := s.requireWritable(); err != nil {
		return nil, err
	}
	clientID := domain.NewClientID()
	secret := domain.NewSecret()
	hash := HashSecret(clientID, secret)

	_, err := s.tx.ExecContext(ctx,
		`INSERT INTO principal_secrets (client_id, principal_id, main_secret_hash, secondary_secret_hash)
		 VALUES (?, ?, ?, ?)`,
		clientID, principalID, hash, hash,
	)
	if err != nil {
		return nil, mapDBError(fmt.Errorf("generate principal secrets: %w", err))
	}
	return &domain.PrincipalSecrets{
		ClientID:            clientID,
		PrincipalID:         principalID,
		MainSecretHash:      hash,
		SecondarySecretHash: hash,
		MainSecret:          secret,
	}, nil
}

// LoadPrincipalSecrets fetches the stored credential hashes for a client id.
// Returns nil without error when the client id is unknown.
func (s *Session) LoadPrincipalSecrets(ctx context.Context, clientID string) (*domain.PrincipalSecrets, error) {
	var sec domain.PrincipalSecrets
	err := s.tx.QueryRowContext(ctx,
		`SELECT client_id, principal_id, main_secret_hash, secondary_secret_hash
		 FROM principal_secrets WHERE client_id = ?`,
		clientID,
	).Scan(&sec.ClientID, &sec.PrincipalID, &sec.MainSecretHash, &sec.SecondarySecretHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load principal secrets: %w", err)
	}
	return &sec, nil
}

// RotatePrincipalSecrets replaces the main secret of a principal with a fresh
// one and returns the new plaintext. On a plain rotation the previous main
// hash is retained as the secondary, so credentials issued before the rotation
// keep working for one cycle. With reset, the secondary is invalidated too.
func (s *Session) RotatePrincipalSecrets(ctx context.Context, clientID string, principalID int64, reset bool) (*domain.PrincipalSecrets, error) {
	if err := s.requireWritable(); err != nil {
		return nil, err
	}
	cur, err := s.LoadPrincipalSecrets(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if cur == nil || cur.PrincipalID != principalID {
		return nil, domain.ErrNotFound("principal secrets for client id %q not found", clientID)
	}

	secret := domain.NewSecret()
	newHash := HashSecret(clientID, secret)
	secondary := cur.MainSecretHash
	if reset {
		secondary = newHash
	}

	_, err = s.tx.ExecContext(ctx,
		`UPDATE principal_secrets SET main_secret_hash = ?, secondary_secret_hash = ? WHERE client_id = ?`,
		newHash, secondary, clientID,
	)
	if err != nil {
		return nil, fmt.Errorf("rotate principal secrets: %w", err)
	}
	return &domain.PrincipalSecrets{
		ClientID:            clientID,
		PrincipalID:         principalID,
		MainSecretHash:      newHash,
		SecondarySecretHash: secondary,
		MainSecret:          secret,
	}, nil
}

// DeletePrincipalSecrets removes the credentials of a principal. Deleting
// absent credentials is not an error; drop cleanup must be idempotent.
func (s *Session) DeletePrincipalSecrets(ctx context.Context, clientID string, principalID int64) error {
	if err := s.requireWritable(); err != nil {
		return err
	}
	_, err := s.tx.ExecContext(ctx,
		`DELETE FROM principal_secrets WHERE client_id = ? AND principal_id = ?`,
		clientID, principalID,
	)
	if err != nil {
		return fmt.Errorf("delete principal secrets: %w", err)
	}
	return nil
}
