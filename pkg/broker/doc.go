// Package broker implements the session lifecycle manager and the stream
// coordinator of lmbroker. The Broker type implements
// transport.SessionBroker: it resolves sessions from the Registry, translates
// generation options, calls the engine, sanitizes engine failures, and hands
// streaming generations to the Coordinator, which delivers incremental
// events to the single attached event sink.
package broker
