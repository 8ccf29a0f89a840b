// Package devlink is the server side of a device-control protocol layered
// on NATS/JetStream. A device server exposes a remote device's streams,
// options and calibration to subscribers, answers asynchronous set/query
// controls through a strictly serialized dispatcher, replays its discovery
// state to late joiners, and manages the announce/disconnect lifecycle on
// a shared device-info topic.
//
// The packages compose bottom-up: message (flexible JSON/CBOR bodies),
// topics (topic naming and device-info payloads), transport (participant
// abstraction with NATS and in-memory implementations), dispatch (ordered
// single-consumer task queue), notification and broadcast (the two
// outbound channels), and device (the data model and the Server
// orchestrator). cmd/devlink is the daemon.
package devlink
