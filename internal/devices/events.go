package devices

// Event topics published by the devices plugin.
const (
	TopicDeviceDiscovered         = "device.discovered"
	TopicDeviceUpdated            = "device.updated"
	TopicDeviceOnline             = "device.online"
	TopicDeviceOffline            = "device.offline"
	TopicDeviceVerificationNeeded = "device.verification_needed"
)
