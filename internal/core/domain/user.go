package domain

// User is the stable identity carried in the bearer token's claims.
// Immutable within a session — the core never writes to it.
type User struct {
	ID        UserID
	Name      string
	Email     string
	AvatarURL string
}
