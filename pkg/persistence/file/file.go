// Package file provides a file-backed persistence implementation used in
// development and unit tests. Records are stored as one JSON document per
// entity under a root directory.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/zaplet/zaplet/pkg/persistence"
)

// Persistence implements persistence.Persistence on the local filesystem.
type Persistence struct {
	root string
	mu   sync.RWMutex

	connections   *ConnectionRepository
	automations   *AutomationRepository
	triggers      *TriggerRepository
	executions    *ExecutionRepository
	retryPolicies *RetryPolicyRepository
	webhookEvents *WebhookEventRepository
}

func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	p := &Persistence{root: cleanRoot}
	p.connections = &ConnectionRepository{store: p}
	p.automations = &AutomationRepository{store: p}
	p.triggers = &TriggerRepository{store: p}
	p.executions = &ExecutionRepository{store: p}
	p.retryPolicies = &RetryPolicyRepository{store: p}
	p.webhookEvents = &WebhookEventRepository{store: p}

	return p
}

func (p *Persistence) ConnectionRepository() persistence.ConnectionRepository {
	return p.connections
}

func (p *Persistence) AutomationRepository() persistence.AutomationRepository {
	return p.automations
}

func (p *Persistence) TriggerRepository() persistence.TriggerRepository {
	return p.triggers
}

func (p *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return p.executions
}

func (p *Persistence) RetryPolicyRepository() persistence.RetryPolicyRepository {
	return p.retryPolicies
}

func (p *Persistence) WebhookEventRepository() persistence.WebhookEventRepository {
	return p.webhookEvents
}

func (p *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(p.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}

// write stores one record as <root>/<collection>/<id>.json.
func (p *Persistence) write(collection, id string, record any) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	dir := filepath.Join(p.root, collection)

	err := os.MkdirAll(dir, 0o755)
	if err != nil {
		return fmt.Errorf("failed to create collection dir %s: %w", collection, err)
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s/%s: %w", collection, id, err)
	}

	err = os.WriteFile(filepath.Join(dir, id+".json"), data, 0o644)
	if err != nil {
		return fmt.Errorf("failed to write %s/%s: %w", collection, id, err)
	}

	return nil
}

// read loads one record; notFound is returned when the file is absent.
func (p *Persistence) read(collection, id string, record any, notFound error) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	data, err := os.ReadFile(filepath.Join(p.root, collection, id+".json"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return notFound
		}

		return fmt.Errorf("failed to read %s/%s: %w", collection, id, err)
	}

	err = json.Unmarshal(data, record)
	if err != nil {
		return fmt.Errorf("failed to unmarshal %s/%s: %w", collection, id, err)
	}

	return nil
}

// readAll loads every record of a collection via the decode callback.
func (p *Persistence) readAll(collection string, decode func(data []byte) error) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	dir := filepath.Join(p.root, collection)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}

		return fmt.Errorf("failed to list collection %s: %w", collection, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("failed to read %s/%s: %w", collection, entry.Name(), err)
		}

		err = decode(data)
		if err != nil {
			return err
		}
	}

	return nil
}

func (p *Persistence) remove(collection, id string, notFound error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	err := os.Remove(filepath.Join(p.root, collection, id+".json"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return notFound
		}

		return fmt.Errorf("failed to delete %s/%s: %w", collection, id, err)
	}

	return nil
}
