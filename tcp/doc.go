// Package tcp is an embeddable IPv4 stream service primitive.
//
// A [Server] accepts peers, filters them through an optional
// [Firewall] and either hands each one to a [Handler] on its own
// goroutine (threaded mode) or keeps exactly one for the caller and
// stops (single-shot mode).  A [Client] makes one outbound connection.
// Both produce a [Connection], whose Receive, Send and Availability
// wait for the socket under a sliding idle timeout: the deadline is
// pushed back by every byte transferred.
//
// Nothing here blocks indefinitely in the kernel.  Every wait is a
// readiness poll bounded by one tick of the shared [pacer.Pacer], so
// closing a Connection from another goroutine is enough to unwind any
// operation in progress on it.
//
// Failures are reported through byte counts and flags rather than
// error values: a short count means "stop and look", and TimedOut
// tells an idle timeout apart from a closed or failed connection.
package tcp
