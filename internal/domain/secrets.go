package domain

// PrincipalSecrets holds the credential state of a principal, keyed by the
// client id stored in the principal's internal properties. Only hashes are
// persisted; the plaintext secret is populated exactly once, on generation or
// rotation, and never stored.
type PrincipalSecrets struct {
	ClientID    string
	PrincipalID int64

	MainSecretHash      string
	SecondarySecretHash string

	// MainSecret is the one-shot plaintext returned to the caller when the
	// secret is (re)generated. Empty on loads.
	MainSecret string
}

// MatchesSecretHash reports whether the given hash matches either the current
// or the previous secret.
func (s *PrincipalSecrets) MatchesSecretHash(hash string) bool {
	return hash != "" && (hash == s.MainSecretHash || hash == s.SecondarySecretHash)
}

// StorageIntegration holds the (possibly encrypted) serialized storage
// configuration attached to a catalog. Credential vending against it is an
// external concern; the core only stores and returns the configuration.
type StorageIntegration struct {
	CatalogID int64
	EntityID  int64
	Config    string
}
