// Package ws streams engine events to WebSocket subscribers.
//
// One Hub owns the client set and fans every published event out to
// all connected clients. A client that cannot drain its queue is
// disconnected rather than allowed to stall the broadcast loop. The
// hub satisfies the Publisher interfaces of the lifecycle dispatcher,
// the runtime orchestrator, and the update checker.
package ws
