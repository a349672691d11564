package controlplane

import (
	"context"
	"fmt"

	"github.com/samijaber1/cellguard/internal/storage"
)

// ListIncidents returns the newest incidents, optionally narrowed to one
// service and status.
func (c *ControlPlane) ListIncidents(ctx context.Context, service string, status storage.IncidentStatus, limit int) ([]storage.Incident, error) {
	filter := storage.IncidentFilter{Limit: limit}
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 50
	}
	if service != "" {
		svc, err := c.service(ctx, service)
		if err != nil {
			return nil, err
		}
		filter.ServiceID = svc.ID
	}
	if status != "" {
		if !status.Valid() {
			return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, status)
		}
		filter.Statuses = []storage.IncidentStatus{status}
	}
	return c.store.ListIncidents(ctx, filter)
}

// SetIncidentStatus moves an incident through its lifecycle. Resolving an
// incident runs incident response again so a postmortem draft is produced.
func (c *ControlPlane) SetIncidentStatus(ctx context.Context, id int64, status storage.IncidentStatus) (*storage.Incident, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}
	if err := c.store.UpdateIncidentStatus(ctx, id, status); err != nil {
		return nil, err
	}
	inc, err := c.store.GetIncident(ctx, id)
	if err != nil {
		return nil, err
	}
	c.logger.Info("incident status changed", "incident_id", id, "status", status)
	if status == storage.IncidentResolved {
		c.respond(ctx, inc)
		if inc, err = c.store.GetIncident(ctx, id); err != nil {
			return nil, err
		}
	}
	return inc, nil
}

// ResolveIncident marks an incident resolved.
func (c *ControlPlane) ResolveIncident(ctx context.Context, id int64) (*storage.Incident, error) {
	return c.SetIncidentStatus(ctx, id, storage.IncidentResolved)
}
