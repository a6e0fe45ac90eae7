// Package relay multiplexes robots connected over TCP onto one host link.
//
// Robots send bare inner frames on their TCP connection. The relay assigns
// each connection a robot id, wraps every verified frame into an envelope
// carrying that id, and writes it to the host sink. In the other direction
// the host sends envelopes; the relay validates the inner frame and writes
// it to the connection owning the robot id, dropping frames for robots that
// are not connected.
//
//	r := relay.New(relay.Config{Listen: ":5005", MaxRobots: 8}, hostLink)
//	go r.ForwardFromHost(ctx, protocol.NewStreamReader(hostLink))
//	err := r.Serve(ctx)
//
// # Graceful Shutdown
//
// When the Serve context ends the relay:
//  1. Stops accepting new robots
//  2. Closes every robot connection
//  3. Waits for the per-robot goroutines to finish, up to 10 seconds
package relay
