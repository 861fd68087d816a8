// Package all registers every storage backend. Commands blank-import it
// so the set of available backends is decided in one place.
package all

import (
	_ "foodb/internal/storage/postgres"
	_ "foodb/internal/storage/sqlite"
)
