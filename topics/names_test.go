package topics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubjectMangling(t *testing.T) {
	tests := []struct {
		root string
		want string
	}{
		{"acme/d400/1234", "acme.d400.1234"},
		{"/leading/slash", "leading.slash"},
		{"with space", "with_space"},
		{"dotted.root", "dotted_root"},
		{"wild*card>", "wild_card_"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Subject(tt.root), tt.root)
	}
}

func TestChannelNames(t *testing.T) {
	root := "acme/d400/1234"
	assert.Equal(t, "acme.d400.1234.notification", Notification(root))
	assert.Equal(t, "acme.d400.1234.control", Control(root))
	assert.Equal(t, "acme.d400.1234.metadata", Metadata(root))
	assert.Equal(t, "acme.d400.1234.stream.color", Stream(root, "color"))
	assert.Equal(t, "acme.d400.1234.stream.infrared_1", Stream(root, "infrared 1"))
}

func TestStreamName(t *testing.T) {
	assert.Equal(t, "DEVLINK_ACME_D400_1234_CONTROL", StreamName("acme.d400.1234.control"))
	assert.Equal(t, "DEVLINK_DEVLINK_DEVICE-INFO", StreamName(DeviceInfoTopic))
}
