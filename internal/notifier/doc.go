// Package notifier delivers operator alerts asynchronously.
//
// Alerts are small, high-signal messages (inbound replies, quote posts,
// status digests) sent as direct messages to the operator account. The
// service queues them and delivers through a worker pool with a shared rate
// limit, jittered retry and a short dedup window so a burst of identical
// alerts reaches the operator once.
//
// Delivery goes through a transport.Sender, normally the Telegram adapter.
package notifier
