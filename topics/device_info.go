package topics

import (
	"fmt"

	"github.com/c360/devlink/errors"
	"github.com/c360/devlink/message"
)

// Device-info payload keys.
const (
	keyName        = "name"
	keySerial      = "serial"
	keyProductLine = "product-line"
	keyTopicRoot   = "topic-root"
	keyRecovery    = "recovery"
	keyStopping    = "stopping"
)

// DeviceInfo identifies a device on the shared device-info topic. The
// topic root doubles as the device's unique namespace; a broadcast is only
// valid when it matches the owning server's root.
type DeviceInfo struct {
	Name        string
	Serial      string
	ProductLine string
	TopicRoot   string
	Recovery    bool // device is in firmware-recovery mode
}

// ToMessage renders the announce payload.
func (di DeviceInfo) ToMessage() message.Flexible {
	m := message.Flexible{
		keyName:      di.Name,
		keyTopicRoot: di.TopicRoot,
	}
	if di.Serial != "" {
		m[keySerial] = di.Serial
	}
	if di.ProductLine != "" {
		m[keyProductLine] = di.ProductLine
	}
	if di.Recovery {
		m[keyRecovery] = true
	}
	return m
}

// StoppingMessage renders the disconnect payload for this device.
func (di DeviceInfo) StoppingMessage() message.Flexible {
	return message.Flexible{
		keyName:      di.Name,
		keyTopicRoot: di.TopicRoot,
		keyStopping:  true,
	}
}

// DeviceInfoFromMessage parses a device-info payload.
func DeviceInfoFromMessage(m message.Flexible) (DeviceInfo, error) {
	var di DeviceInfo
	var err error

	if di.TopicRoot, err = m.StringField(keyTopicRoot); err != nil {
		return di, errors.WrapInvalid(err, "DeviceInfo", "FromMessage", "read topic root")
	}
	if di.Name, err = m.OptString(keyName, ""); err != nil {
		return di, errors.WrapInvalid(err, "DeviceInfo", "FromMessage", "read name")
	}
	if di.Serial, err = m.OptString(keySerial, ""); err != nil {
		return di, errors.WrapInvalid(err, "DeviceInfo", "FromMessage", "read serial")
	}
	if di.ProductLine, err = m.OptString(keyProductLine, ""); err != nil {
		return di, errors.WrapInvalid(err, "DeviceInfo", "FromMessage", "read product line")
	}
	if v, ok := m.Field(keyRecovery); ok {
		b, ok := v.(bool)
		if !ok {
			return di, errors.WrapInvalid(fmt.Errorf("recovery should be a boolean; got %v", v),
				"DeviceInfo", "FromMessage", "read recovery flag")
		}
		di.Recovery = b
	}
	return di, nil
}

// IsStopping reports whether a device-info payload announces a disconnect.
func IsStopping(m message.Flexible) bool {
	v, ok := m.Field(keyStopping)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}
