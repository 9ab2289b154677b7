// Package journal persists dispatched actions to SQLite and replays them.
//
// Every action the store reduces is appended together with the content hash
// of the user-visible state it produced. Replay re-dispatches a session into
// a fresh store and reports the first seq at which the state hash diverges.
//
// The database uses WAL mode and a single connection, so one writer at a
// time appends while readers (the CLI) inspect the file.
package journal
