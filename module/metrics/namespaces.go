package metrics

// Prometheus metric namespaces
const (
	namespaceBazaar = "bazaar"
)

// Subsystems
const (
	subsystemNetwork = "network"
	subsystemAlsp    = "alsp"
	subsystemStorage = "storage"
	subsystemClient  = "client"
	subsystemServer  = "server"
)
