package events

// GIDNotifier publishes GID table changes on a Bus.
type GIDNotifier struct {
	Bus    Bus
	Source string
}

func (n *GIDNotifier) GIDChanged(device string, port, index int) {
	n.Bus.Publish(TopicGIDChange, Event{
		Source: n.Source,
		Data: GIDChangeEvent{
			Device: device,
			Port:   port,
			Index:  index,
		},
	})
}
