// Package sink delivers finished transcripts to live observers. The Hub
// fans each transcript out to connected websocket clients; LogSink writes
// the rendered line to the service log. Multi composes sinks so both can
// run at once.
package sink
