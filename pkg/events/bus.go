package events

type Handler func(Event)

type Subscription interface {
	Unsubscribe()
}

type TopicStats struct {
	Topic       string `json:"topic" yaml:"topic"`
	Subscribers int    `json:"subscribers" yaml:"subscribers"`
}

type Stats struct {
	Topics       []TopicStats `json:"topics" yaml:"topics"`
	PublishChLen int          `json:"publish-channel-length" yaml:"publish-channel-length"`
	PublishChCap int          `json:"publish-channel-capacity" yaml:"publish-channel-capacity"`
	Published    uint64       `json:"published" yaml:"published"`
	Delivered    uint64       `json:"delivered" yaml:"delivered"`
	Dropped      uint64       `json:"dropped" yaml:"dropped"`
}

// Bus fans events out to subscribers. Publish never blocks; events that
// cannot be queued are dropped and counted.
type Bus interface {
	Publish(topic string, event Event)
	Subscribe(topic string, handler Handler) Subscription
	SubscribeAll(handler Handler) Subscription
	Stats() Stats
	Close() error
}
