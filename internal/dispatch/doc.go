// Package dispatch routes decoded link messages to handlers by topic.
//
// A Dispatcher pulls envelopes from a source (normally a
// protocol.StreamReader), validates the inner frame, decodes the payload
// through a protocol.Registry and invokes the handlers registered for the
// topic. Corrupted frames are counted and dropped, unknown topics are
// counted and passed to an optional hook, and only transport closure,
// cancellation or a handler error end Run.
//
//	d := dispatch.New(protocol.NewStreamReader(port), nil)
//	var pose dispatch.Latest[protocol.Pose2D]
//	d.Handle(protocol.TopicOdometry, func(m dispatch.Delivery) error {
//	    pose.Set(*m.Message.(*protocol.Pose2D))
//	    return nil
//	})
//	err := d.Run(ctx)
package dispatch
