// Package memstore provides in-memory object stores for velomigrate.
//
// Importing the package registers two location schemes:
//
//	mem://name          a process-wide named store, shared by every connection
//	msgpack:///path     a store loaded from and persisted to a msgpack file
//
// Uncommitted writes are private to a connection. A commit validates
// required attributes and relationships and installs every pending object
// at once, or nothing.
package memstore
