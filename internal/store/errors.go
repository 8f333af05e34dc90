package store

import "errors"

// ErrAlreadyExists signals a unique-key collision (e.g. a Tool whose
// (botId,name) is already taken, or a name reserved by a built-in).
// Callers must distinguish this from other failures rather than treat
// it as fatal.
var ErrAlreadyExists = errors.New("store: already exists")

// ErrNotFound signals that a lookup found no matching row.
var ErrNotFound = errors.New("store: not found")
