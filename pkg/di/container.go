// Package di provides dependency injection container
package di

import (
	"fmt"
	"log"

	"github.com/muninndb/muninn/pkg/api"
	"github.com/muninndb/muninn/pkg/config"
	"github.com/muninndb/muninn/pkg/coordinator"
	"github.com/muninndb/muninn/pkg/engine"
	"github.com/muninndb/muninn/pkg/store"
)

// Container wires the storage stack together: engine, record store and
// coordinator, built once from configuration and shared by every command.
type Container struct {
	cfg *config.Config

	engine *engine.Engine
	coord  *coordinator.Coordinator
}

// NewContainer creates a new dependency injection container
func NewContainer(cfg *config.Config) *Container {
	return &Container{cfg: cfg}
}

// Open builds the stack bottom-up. It is not safe for concurrent use.
func (c *Container) Open() error {
	if c.engine != nil {
		return nil
	}

	eng, err := engine.Open(engine.Config{
		Path:       c.cfg.DataDir,
		SyncWrites: c.cfg.Store.SyncWrites,
	})
	if err != nil {
		return fmt.Errorf("failed to open storage engine: %w", err)
	}

	// Corruption alerts reach both the log and the Prometheus counter.
	metrics := api.NewMetrics()
	rs := store.NewRecordStore(eng, store.WithCorruptionHook(func(partition, id string, err error) {
		log.Printf("ALERT: corrupt record %s/%s: %v", partition, id, err)
		metrics.RecordCorruptRecord()
	}))
	c.engine = eng
	c.coord = coordinator.New(rs, coordinator.Config{
		QueueDepth: c.cfg.Coordinator.QueueDepth,
		Shards:     c.cfg.Coordinator.Shards,
	})
	return nil
}

// Coordinator returns the access coordinator. Open must have succeeded.
func (c *Container) Coordinator() *coordinator.Coordinator {
	return c.coord
}

// Engine exposes the underlying storage engine. Open must have succeeded.
func (c *Container) Engine() *engine.Engine {
	return c.engine
}

// ServerConfig derives the API server configuration
func (c *Container) ServerConfig() api.ServerConfig {
	return api.ServerConfig{
		Port:      c.cfg.Port,
		Bind:      c.cfg.Bind,
		APIKey:    c.cfg.Security.APIKey,
		ScanLimit: c.cfg.Store.ScanLimit,
	}
}

// Close tears the stack down
func (c *Container) Close() error {
	if c.engine == nil {
		return nil
	}
	err := c.engine.Close()
	c.engine = nil
	c.coord = nil
	return err
}
