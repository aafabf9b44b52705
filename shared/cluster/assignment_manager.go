// shared/cluster/assignment_manager.go
package cluster

import (
	"context"
	"fmt"
	"log"
	"slices"
	"sync"
	"time"

	"github.com/cybercatalyst/escape-services/shared/registry"
	"github.com/stathat/consistent"
)

// ServiceAssignmentManager decides whether this instance is responsible
// for a given team, using consistent hashing over the set of active
// instances. The timeout watcher consults it so that a team's timeout is
// announced by exactly one instance even when several are running.
type ServiceAssignmentManager struct {
	registryClient   *registry.RegistryClient
	serviceRegistrar *registry.ServiceRegistrar
	updateInterval   time.Duration
	consistentHash   *consistent.Consistent
	chMux            sync.RWMutex
	ctx              context.Context
	cancel           context.CancelFunc
}

// NewServiceAssignmentManager creates and initializes a new manager. The
// ring starts with only this instance and converges as the registry is read.
func NewServiceAssignmentManager(
	registryClient *registry.RegistryClient,
	serviceRegistrar *registry.ServiceRegistrar,
	updateInterval time.Duration,
) *ServiceAssignmentManager {
	ctx, cancel := context.WithCancel(context.Background())

	sam := &ServiceAssignmentManager{
		registryClient:   registryClient,
		serviceRegistrar: serviceRegistrar,
		updateInterval:   updateInterval,
		consistentHash:   consistent.New(),
		ctx:              ctx,
		cancel:           cancel,
	}

	sam.chMux.Lock()
	sam.consistentHash.Add(sam.serviceRegistrar.GetServiceID())
	sam.chMux.Unlock()

	return sam
}

// Start begins the periodic ring refresh. Run in a goroutine.
func (sam *ServiceAssignmentManager) Start() {
	ticker := time.NewTicker(sam.updateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sam.ctx.Done():
			return
		case <-ticker.C:
			sam.refreshRing()
		}
	}
}

// Stop shuts down the refresh loop.
func (sam *ServiceAssignmentManager) Stop() {
	sam.cancel()
}

// refreshRing fetches the active instances of this service type and
// rebuilds the hash ring if membership changed.
func (sam *ServiceAssignmentManager) refreshRing() {
	activeServices, err := sam.registryClient.GetActiveServices(sam.ctx, sam.serviceRegistrar.GetServiceType())
	if err != nil {
		log.Printf("ERROR: AssignmentManager: failed to get active services for type '%s': %v",
			sam.serviceRegistrar.GetServiceType(), err)
		return
	}

	members := make([]string, 0, len(activeServices))
	for id := range activeServices {
		members = append(members, id)
	}
	slices.Sort(members)

	sam.chMux.Lock()
	defer sam.chMux.Unlock()

	currentMembers := sam.consistentHash.Members()
	slices.Sort(currentMembers)

	if !slices.Equal(members, currentMembers) {
		newRing := consistent.New()
		for _, member := range members {
			newRing.Add(member)
		}
		sam.consistentHash = newRing
		log.Printf("INFO: AssignmentManager: hash ring updated for '%s'. Active members: %v",
			sam.serviceRegistrar.GetServiceType(), members)
	}
}

// IsResponsible reports whether this instance owns the given entity ID.
func (sam *ServiceAssignmentManager) IsResponsible(entityID string) (bool, error) {
	sam.chMux.RLock()
	defer sam.chMux.RUnlock()

	if len(sam.consistentHash.Members()) == 0 {
		return false, fmt.Errorf("consistent hash ring is empty for service type %s", sam.serviceRegistrar.GetServiceType())
	}

	owner, err := sam.consistentHash.Get(entityID)
	if err != nil {
		return false, fmt.Errorf("failed to get responsible instance for entity '%s': %w", entityID, err)
	}

	return owner == sam.serviceRegistrar.GetServiceID(), nil
}
