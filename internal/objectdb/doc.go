// Package objectdb fetches object metadata (fields and binary attachments)
// from the object databases that recognition results refer to.
//
// A database is named by the identifier carried in each detection: a JSON
// object whose "type" member selects the backend, for example
//
//	{"type":"CouchDB","root":"http://localhost:5984","collection":"object_recognition"}
//	{"type":"SQLite","path":"/var/lib/objects.db","collection":"object_recognition"}
//
// Built-in backends (CouchDB, filesystem, SQLite, empty) are always
// available. Any other type must be registered on the Registry before use;
// see miniodb for an example of an out-of-tree backend.
package objectdb
