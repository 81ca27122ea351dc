package events

const (
	TopicGIDChange = "gidd:events:gid:change"
	TopicDevice    = "gidd:events:device"
)
