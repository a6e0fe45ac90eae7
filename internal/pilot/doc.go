// Package pilot holds the periodic senders that drive robots from the host:
// a Pilot that streams velocity commands from a VelocitySource, and a
// Heartbeat that keeps robot clocks in sync with timestamps.
//
// Both run until their context is cancelled and share a Sender, which is
// expected to serialise writes (transport.Sender does).
package pilot
