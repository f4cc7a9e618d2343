// Package media provides the UDP frame transport that feeds capture
// pipelines. Each datagram carries a session ID, a speaker ID, and one
// opaque audio frame; the transport routes frames to the matching
// subscribed speaker stream and drops frames nobody is listening for.
package media
