package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeAnnotator runs the submission consumer.
	ServiceModeAnnotator ServiceMode = "annotator"
	// ServiceModeArchiver runs the archival consumer.
	ServiceModeArchiver ServiceMode = "archiver"
	// ServiceModeRestorer runs the restore consumer.
	ServiceModeRestorer ServiceMode = "restorer"
	// ServiceModeQueueReaper runs the lease reaper that redelivers expired in-flight messages.
	ServiceModeQueueReaper ServiceMode = "queue-reaper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeAnnotator,
		ServiceModeArchiver,
		ServiceModeRestorer,
		ServiceModeQueueReaper,
	}
}

// ParseServices parses a comma-delimited string of service names and returns
// the enabled services. It validates that all service names are valid and
// returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	for _, part := range strings.Split(servicesStr, ",") {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeAnnotator, ServiceModeArchiver, ServiceModeRestorer, ServiceModeQueueReaper:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: annotator, archiver, restorer, queue-reaper)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// AnnotatorConfig contains submission consumer configuration.
type AnnotatorConfig struct {
	// Concurrency is the number of polling workers.
	Concurrency int `env:"ANNOTATOR_CONCURRENCY" envDefault:"1"`

	// DriverCommand is the external annotator executable dispatched per job.
	DriverCommand string `env:"ANNOTATOR_DRIVER_CMD" envDefault:"annotate"`

	// DriverTimeout bounds a single execution of the driver command.
	DriverTimeout time.Duration `env:"ANNOTATOR_DRIVER_TIMEOUT" envDefault:"30m"`
}

// Sanitize applies guardrails to annotator configuration.
func (c *AnnotatorConfig) Sanitize() {
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	c.DriverCommand = strings.TrimSpace(c.DriverCommand)
	if c.DriverTimeout <= 0 {
		c.DriverTimeout = 30 * time.Minute
	}
}

// ArchiverConfig contains archival consumer configuration.
type ArchiverConfig struct {
	Concurrency int `env:"ARCHIVER_CONCURRENCY" envDefault:"1"`
}

// Sanitize applies guardrails to archiver configuration.
func (c *ArchiverConfig) Sanitize() {
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
}

// RestorerConfig contains restore consumer configuration.
type RestorerConfig struct {
	Concurrency int `env:"RESTORER_CONCURRENCY" envDefault:"1"`
}

// Sanitize applies guardrails to restorer configuration.
func (c *RestorerConfig) Sanitize() {
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
}

// QueueReaperConfig contains lease reaper configuration.
type QueueReaperConfig struct {
	// Interval is how often expired leases are swept back to pending.
	Interval time.Duration `env:"QUEUE_REAPER_INTERVAL" envDefault:"15s"`

	// BatchSize caps how many expired messages are requeued per sweep per queue.
	BatchSize int `env:"QUEUE_REAPER_BATCH_SIZE" envDefault:"100"`
}

// Sanitize applies guardrails to reaper configuration.
func (c *QueueReaperConfig) Sanitize() {
	if c.Interval <= 0 {
		c.Interval = 15 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
}
