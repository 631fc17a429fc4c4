// Package gateway exposes agent runs, conversation history and live event streams over HTTP.
//
// Messages are posted as JSON and answered when the run finishes. Tool lifecycle and
// usage events for a conversation are delivered while it runs, either as Server-Sent
// Events or as WebSocket JSON frames.
package gateway
