package roomsync

// Identity supplies the caller's stable user id. The coordinator only reads it.
type Identity interface {
	CurrentUserID() string
}

// StaticIdentity is an Identity fixed at construction, used by the CLI and tests.
type StaticIdentity string

// CurrentUserID implements Identity.
func (s StaticIdentity) CurrentUserID() string {
	return string(s)
}
