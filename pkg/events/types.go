package events

// GIDChangeEvent is published whenever a GID table slot was reprogrammed.
type GIDChangeEvent struct {
	Device string
	Port   int
	Index  int
}

type DeviceState string

const (
	DeviceAttached DeviceState = "attached"
	DeviceDetached DeviceState = "detached"
)

type DeviceEvent struct {
	Device string
	State  DeviceState
}
