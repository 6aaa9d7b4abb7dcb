// Package command implements the FUNCTION command family and the
// FCALL/FCALL_RO invocation commands over parsed argument vectors.
//
// The caller hands Execute an argv slice the way a protocol front end
// would after splitting a request line. Replies come back as plain Go
// values (string, int64, []any, nested library records) for the front
// end to serialize however it likes.
//
// Every command runs inside the lifecycle manager's exclusive section,
// so handlers never observe a half-mutated registry. Write-classified
// commands (LOAD, DELETE, FLUSH, RESTORE, and FCALL of a writing
// function) report through the Dirty collaborator so the surrounding
// server can feed replication and persistence.
package command
