package event

// Object lifecycle events emitted by the world cache.

type ObjectLoaded struct {
	ID      string
	ClassID string
}

type ObjectCreated struct {
	ID      string
	ClassID string
}

type ObjectEvicted struct {
	ID string
}

type ObjectDeleted struct {
	ID string
}
