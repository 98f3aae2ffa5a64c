package interfaces

// -----------------------------------------------------------------------------
// IIdentityResolver maps a transport-level auth token to a user id. Identity
// itself is owned by the account service; this is the narrow slice the
// coordinator consumes.
// -----------------------------------------------------------------------------

type IIdentityResolver interface {

	// Resolve returns the authenticated user id for a session token.
	Resolve(token string) (string, error)
}
