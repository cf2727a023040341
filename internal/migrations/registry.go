package migrations

import "context"

// Default returns the registry of every migration shipped with leafsync.
func Default() *Registry {
	r, err := NewRegistry(
		dropProjectImportFailures,
	)
	if err != nil {
		panic(err)
	}
	return r
}

// Import failures are no longer recorded; the collection is dead weight.
// There is nothing to restore on rollback.
var dropProjectImportFailures = Migration{
	Name: "20200522145727_dropProjectImportFailures",
	Tags: []string{"saas"},
	Up: func(ctx context.Context, db Database) error {
		return db.DropCollection(ctx, "projectImportFailures")
	},
	Down: func(ctx context.Context, db Database) error {
		return nil
	},
}
