// Package transport opens the byte links the protocol runs over: a USB
// serial port to the link controller, or a TCP connection to a relay.
//
// Every Link is an io.ReadWriteCloser. Read timeouts surface as
// os.ErrDeadlineExceeded so that protocol.StreamReader reports them as
// retryable. Writers shared between goroutines go through SyncWriter, which
// keeps each envelope contiguous on the wire.
package transport
