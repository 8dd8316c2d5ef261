package worker

import (
	"github.com/spec-kit/security-ir-jira/internal/events"
	"github.com/spec-kit/security-ir-jira/internal/service"
)

// StartSyncWorkers registers the mirroring handlers on the bus. Either
// service may be nil when the process only runs one direction.
func StartSyncWorkers(bus events.Bus, guard *service.Guard, outbound *service.OutboundService, reverse *service.ReverseSyncService) {
	if bus == nil || guard == nil {
		return
	}
	if outbound != nil {
		outbound.RegisterHandlers(bus, guard)
	}
	if reverse != nil {
		reverse.RegisterHandlers(bus, guard)
	}
}
