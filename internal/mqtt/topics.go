package mqtt

import "strings"

const (
	DefaultTopicPrefix = "hwc"

	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// TopicFactory builds the topics below a common prefix
type TopicFactory struct {
	prefix string
}

// NewTopicFactory creates a topic factory; an empty prefix becomes "hwc"
func NewTopicFactory(prefix string) *TopicFactory {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return &TopicFactory{prefix: prefix}
}

// Status is the availability topic carrying online/offline
func (tf *TopicFactory) Status() string { return tf.prefix + "/status" }

// ControllerStatus carries the controller status JSON
func (tf *TopicFactory) ControllerStatus() string { return tf.prefix + "/controller/status" }

// Diagnostics carries diagnostic codes
func (tf *TopicFactory) Diagnostics() string { return tf.prefix + "/diagnostics" }

// SmartModeValues is the inbound telemetry topic
func (tf *TopicFactory) SmartModeValues() string { return tf.prefix + "/smartmode/values" }
