// Package topics defines the topic namespace a device server owns and the
// device-info payload used for announce/disconnect broadcasts.
//
// Every device lives under a topic-root string (e.g. "acme/d400/1234").
// The root is mangled into a NATS subject prefix, and the fixed channel
// suffixes hang off it:
//
//	<root>.notification   discovery + replies (server -> many)
//	<root>.control        control requests (many -> server)
//	<root>.metadata       per-frame metadata (server -> many, lazy)
//	<root>.stream.<name>  per-stream data
//
// All broadcasts share one well-known topic, DeviceInfoTopic.
package topics

import "strings"

// Channel suffixes under a device's subject prefix.
const (
	NotificationSuffix = ".notification"
	ControlSuffix      = ".control"
	MetadataSuffix     = ".metadata"
	streamInfix        = ".stream."
)

// DeviceInfoTopic is the shared topic on which every device announces
// itself and its disconnect.
const DeviceInfoTopic = "devlink.device-info"

// Subject mangles a topic root into a NATS subject prefix: path separators
// become subject token separators and characters NATS reserves are
// replaced.
func Subject(topicRoot string) string {
	var b strings.Builder
	b.Grow(len(topicRoot))
	for _, ch := range topicRoot {
		switch {
		case ch == '/':
			b.WriteByte('.')
		case ch == ' ' || ch == '.' || ch == '*' || ch == '>':
			b.WriteByte('_')
		default:
			b.WriteRune(ch)
		}
	}
	return strings.Trim(b.String(), ".")
}

// Token mangles a stream or option name into a single subject token.
func Token(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, ch := range name {
		switch ch {
		case '.', ' ', '/', '*', '>':
			b.WriteByte('_')
		default:
			b.WriteRune(ch)
		}
	}
	return b.String()
}

// Notification returns the notification topic for a device.
func Notification(topicRoot string) string {
	return Subject(topicRoot) + NotificationSuffix
}

// Control returns the control topic for a device.
func Control(topicRoot string) string {
	return Subject(topicRoot) + ControlSuffix
}

// Metadata returns the metadata topic for a device.
func Metadata(topicRoot string) string {
	return Subject(topicRoot) + MetadataSuffix
}

// Stream returns the data topic for a named stream of a device.
func Stream(topicRoot, streamName string) string {
	return Subject(topicRoot) + streamInfix + Token(streamName)
}

// StreamName mangles a subject into a JetStream-safe stream name, which
// may not contain dots, spaces, or wildcard characters.
func StreamName(subject string) string {
	upper := strings.ToUpper(subject)
	var b strings.Builder
	b.Grow(len(upper) + 8)
	b.WriteString("DEVLINK_")
	for _, ch := range upper {
		switch ch {
		case '.', ' ', '/', '*', '>':
			b.WriteByte('_')
		default:
			b.WriteRune(ch)
		}
	}
	return b.String()
}
