package daemon

import (
	"context"
	"fmt"
	"time"

	"git.home.luguber.info/inful/prefsd/internal/daemon/events"
	apihandlers "git.home.luguber.info/inful/prefsd/internal/server/handlers"
	"git.home.luguber.info/inful/prefsd/internal/server/responses"
	"git.home.luguber.info/inful/prefsd/internal/storagemode"
	"git.home.luguber.info/inful/prefsd/internal/version"
)

// Health reports the daemon status plus one check per component. A missing store or a
// stopped daemon is unhealthy; optional components that are down only degrade.
func (d *Daemon) Health(_ context.Context) responses.HealthResponse {
	checks := []responses.HealthCheck{
		d.checkDaemon(),
		d.checkStore(),
		d.checkStorageMode(),
		d.checkHardwareSource(),
		d.checkErase(),
		d.checkEventBus(),
	}

	status := apihandlers.HealthStatusHealthy
	for _, c := range checks {
		switch c.Status {
		case apihandlers.HealthStatusUnhealthy:
			status = apihandlers.HealthStatusUnhealthy
		case apihandlers.HealthStatusDegraded:
			if status == apihandlers.HealthStatusHealthy {
				status = apihandlers.HealthStatusDegraded
			}
		}
	}

	var uptime float64
	if !d.startTime.IsZero() {
		uptime = time.Since(d.startTime).Seconds()
	}
	return responses.HealthResponse{
		Status:    status,
		Timestamp: time.Now(),
		Version:   version.Version,
		Uptime:    uptime,
		Checks:    checks,
	}
}

func (d *Daemon) checkDaemon() responses.HealthCheck {
	c := responses.HealthCheck{Name: "daemon", Status: apihandlers.HealthStatusHealthy}
	if s := d.GetStatus(); s != StatusRunning {
		c.Status = apihandlers.HealthStatusUnhealthy
		c.Message = fmt.Sprintf("daemon is %s", s)
	}
	return c
}

func (d *Daemon) checkStore() responses.HealthCheck {
	c := responses.HealthCheck{Name: "store", Status: apihandlers.HealthStatusHealthy}
	if !d.store.Ready() {
		c.Status = apihandlers.HealthStatusUnhealthy
		c.Message = "persisted values not loaded"
		return c
	}
	c.Message = fmt.Sprintf("%d keys", len(d.store.Keys()))
	return c
}

func (d *Daemon) checkStorageMode() responses.HealthCheck {
	mode := d.machine.Mode()
	c := responses.HealthCheck{Name: "storage_mode", Status: apihandlers.HealthStatusHealthy, Message: mode.String()}
	if mode == storagemode.Brick {
		c.Status = apihandlers.HealthStatusDegraded
		c.Message = "mass storage mode active, consistency checks paused"
	}
	return c
}

func (d *Daemon) checkHardwareSource() responses.HealthCheck {
	c := responses.HealthCheck{Name: "hardware_events", Status: apihandlers.HealthStatusHealthy}
	src := d.natsSource.Load()
	switch {
	case d.cfg.StorageMode.NATSURL == "":
		c.Message = "http only"
	case src == nil:
		c.Status = apihandlers.HealthStatusDegraded
		c.Message = "nats source unavailable"
	default:
		c.Message = src.Subject()
	}
	return c
}

func (d *Daemon) checkErase() responses.HealthCheck {
	c := responses.HealthCheck{Name: "erase", Status: apihandlers.HealthStatusHealthy, Message: "available"}
	if !d.eraser.Available() {
		c.Message = "no erase provider"
	}
	return c
}

func (d *Daemon) checkEventBus() responses.HealthCheck {
	return responses.HealthCheck{
		Name:    "event_bus",
		Status:  apihandlers.HealthStatusHealthy,
		Message: fmt.Sprintf("%d stream subscribers, %d dropped", events.SubscriberCount[events.Event](d.bus), d.bus.Dropped()),
	}
}
