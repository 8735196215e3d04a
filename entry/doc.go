// Package entry implements the configuration entry stores built on
// top of the datastore.
//
// [ConfigStore] manages a namespace holding exactly one record,
// lazily seeding it from defaults the first time it is read.
// [CRUDStore] manages a collection of records with filtering,
// uniqueness checks, and dependency-guarded deletion.
//
// Both stores follow the same mutation sequence: validate, commit to
// the datastore, re-read the committed state, run the registered
// post-change hooks, and only then announce the change on the event
// bus. A hook failure propagates to the caller and suppresses the
// announcement; the datastore write is not rolled back.
package entry
