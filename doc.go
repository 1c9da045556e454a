// Package sqlidb is a transactional, indexed object store with IndexedDB
// semantics persisted in SQLite.
//
// A Factory owns a data directory. Databases are versioned; opening one at a
// higher version runs an upgrade callback inside a version-change
// transaction, which is the only place object stores and indexes can be
// created, renamed or deleted:
//
//	f, err := sqlidb.NewFactory(ctx, sqlidb.WithDataDir("./data"))
//	if err != nil {
//		return err
//	}
//	defer f.Close()
//
//	db, err := f.Open(ctx, "app", 1, func(db *sqlidb.Database, _ *sqlidb.Transaction, _ int64) error {
//		people, err := db.CreateObjectStore("people", sqlidb.StoreOptions{KeyPath: "id", AutoIncrement: true})
//		if err != nil {
//			return err
//		}
//		_, err = people.CreateIndex("byName", "name", sqlidb.IndexOptions{})
//		return err
//	})
//
// Every store, index and cursor operation validates its arguments, queues a
// Request on its transaction and returns. Transaction.Run drains the queue
// in order against one SQL transaction; handlers attached to a request may
// queue more work on the same transaction:
//
//	err = db.Update(ctx, []string{"people"}, func(tx *sqlidb.Transaction) error {
//		people, err := tx.ObjectStore("people")
//		if err != nil {
//			return err
//		}
//		if _, err := people.Add(map[string]any{"name": "Ann"}, nil); err != nil {
//			return err
//		}
//		byName, err := people.Index("byName")
//		if err != nil {
//			return err
//		}
//		req, err := byName.Count("Ann")
//		if err != nil {
//			return err
//		}
//		req.OnSuccess = func(r *sqlidb.Request) error {
//			fmt.Println(r.Result()) // 1
//			return nil
//		}
//		return nil
//	})
//
// A request that fails without its error being handled aborts the whole
// transaction; Run then returns an AbortError whose Cause is the request's
// error.
package sqlidb
