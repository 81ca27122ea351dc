package logger

const (
	Main     = "main"
	GIDCache = "gidcache"
	GIDMgmt  = "gidmgmt"
	Netlink  = "netlink"
	Events   = "events"
	Metrics  = "metrics"
	Device   = "device"
	Shell    = "shell"
)
