// Package server implements the real-time side of the Nexus chat server.
//
// The Hub owns every WebSocket connection: it sends new clients the
// retained message log, dispatches identify, chat and visibility frames,
// broadcasts stored messages and runs the ping/pong liveness sweep. App
// wires the hub to the message log, presence tracker, subscription
// registry and push dispatcher, and exposes them over gin routes.
package server
