package model

// Origin identifies where an emitted collection came from.
type Origin string

const (
	// OriginCache marks a collection read from the local cache store.
	OriginCache Origin = "cache"
	// OriginRemote marks a collection freshly fetched from the remote source.
	OriginRemote Origin = "remote"
)

// IsValid returns true if the origin is recognized
func (o Origin) IsValid() bool {
	switch o {
	case OriginCache, OriginRemote:
		return true
	default:
		return false
	}
}

// String returns the string representation of the origin.
func (o Origin) String() string {
	return string(o)
}
