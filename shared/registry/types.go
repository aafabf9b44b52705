// shared/registry/types.go
package registry

// ServiceInfo represents the details of a registered service instance.
// Stored in Redis and used by the timeout watcher to learn which
// session-service instances are alive.
type ServiceInfo struct {
	ServiceID   string            `json:"serviceId"`
	ServiceType string            `json:"serviceType"`
	IP          string            `json:"ip"`
	Port        int               `json:"port"`
	LastSeen    int64             `json:"lastSeen"` // Unix milliseconds of the last heartbeat
	Metadata    map[string]string `json:"metadata,omitempty"`
}
