// Package velomigrate copies an object graph from one store into another
// store that shares the same model.
//
// A Migrator is driven explicitly by its caller:
//
//	m, err := velomigrate.New(model, "sqlite://old.db", "msgpack:///tmp/new.vmp")
//	if err != nil {
//		return err
//	}
//	if err := m.Begin(ctx); err != nil {
//		return err
//	}
//	defer m.End(ctx)
//
//	// Book.sequel has no inverse. Follow it after every book exists.
//	_ = m.Snip("sequel", "Book")
//	if err := m.MigrateEntity(ctx, "Author", 500, true); err != nil {
//		return err
//	}
//	if err := m.MigrateEntity(ctx, "Book", 500, true); err != nil {
//		return err
//	}
//	return m.Stitch(ctx, "sequel", "Book", true)
//
// Migrating an object migrates everything reachable from it through
// relationships that are not snipped. Each source object gets exactly one
// destination counterpart per session, so shared and cyclic references are
// preserved. Setting one side of a relationship that has an inverse sets
// the other side as well; that is the job of the destination store.
//
// Stores are opened by location URL. The scheme selects a driver registered
// with the store package; import store/memstore or store/sqlstore for the
// drivers they provide.
package velomigrate
