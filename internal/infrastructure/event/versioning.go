package event

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/evercore/backend/internal/domain/shared"
)

// PayloadUpgrader transforms a payload from one schema version to the
// next. Each upgrader handles a single version transition (e.g. v1 -> v2).
type PayloadUpgrader interface {
	// SourceVersion returns the version this upgrader reads from
	SourceVersion() int
	// TargetVersion returns the version this upgrader produces
	TargetVersion() int
	// Upgrade transforms the raw JSON payload from source to target version
	Upgrade(payload []byte) ([]byte, error)
}

// VersionedPayloadConfig holds the versioning setup for one event type
type VersionedPayloadConfig struct {
	EventType      string
	CurrentVersion int
	Upgraders      map[int]PayloadUpgrader        // version -> upgrader to next version
	Versions       map[int]shared.EventPayload    // version -> payload prototype
}

// VersionRegistry manages versioned payload types and their migrations
type VersionRegistry struct {
	mu      sync.RWMutex
	configs map[string]*VersionedPayloadConfig
}

// NewVersionRegistry creates a new version registry
func NewVersionRegistry() *VersionRegistry {
	return &VersionRegistry{
		configs: make(map[string]*VersionedPayloadConfig),
	}
}

// RegisterVersioned registers a versioned payload type with its upgraders.
// The upgrader chain must be sequential and cover every transition from
// version 1 up to currentVersion.
func (r *VersionRegistry) RegisterVersioned(
	eventType string,
	currentVersion int,
	versions map[int]shared.EventPayload,
	upgraders ...PayloadUpgrader,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	upgraderMap := make(map[int]PayloadUpgrader)
	for _, u := range upgraders {
		if u.TargetVersion() != u.SourceVersion()+1 {
			return fmt.Errorf("upgrader must be sequential: got %d -> %d", u.SourceVersion(), u.TargetVersion())
		}
		upgraderMap[u.SourceVersion()] = u
	}

	for v := 1; v < currentVersion; v++ {
		if _, ok := upgraderMap[v]; !ok {
			return fmt.Errorf("missing upgrader for version %d -> %d for event type %s", v, v+1, eventType)
		}
	}

	if _, ok := versions[currentVersion]; !ok {
		return fmt.Errorf("versions map must include current version %d for event type %s", currentVersion, eventType)
	}

	r.configs[eventType] = &VersionedPayloadConfig{
		EventType:      eventType,
		CurrentVersion: currentVersion,
		Upgraders:      upgraderMap,
		Versions:       versions,
	}
	return nil
}

// RegisterSimple registers a payload type that has only version 1
func (r *VersionRegistry) RegisterSimple(eventType string, prototype shared.EventPayload) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.configs[eventType] = &VersionedPayloadConfig{
		EventType:      eventType,
		CurrentVersion: 1,
		Upgraders:      make(map[int]PayloadUpgrader),
		Versions: map[int]shared.EventPayload{
			1: prototype,
		},
	}
}

// GetConfig returns the versioning config for an event type
func (r *VersionRegistry) GetConfig(eventType string) (*VersionedPayloadConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	config, ok := r.configs[eventType]
	return config, ok
}

// CurrentVersion returns the latest schema version for an event type
func (r *VersionRegistry) CurrentVersion(eventType string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	config, ok := r.configs[eventType]
	if !ok {
		return 0, false
	}
	return config.CurrentVersion, true
}

// IsRegistered checks if an event type is registered
func (r *VersionRegistry) IsRegistered(eventType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.configs[eventType]
	return ok
}

// RegisteredTypes returns all registered event types
func (r *VersionRegistry) RegisteredTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.configs))
	for t := range r.configs {
		types = append(types, t)
	}
	return types
}

// UpgradePayload upgrades a payload from fromVersion to the latest
// version by running the upgrader chain sequentially
func (r *VersionRegistry) UpgradePayload(eventType string, payload []byte, fromVersion int) ([]byte, int, error) {
	r.mu.RLock()
	config, ok := r.configs[eventType]
	r.mu.RUnlock()

	if !ok {
		return nil, 0, fmt.Errorf("unknown event type: %s", eventType)
	}

	if fromVersion >= config.CurrentVersion {
		return payload, config.CurrentVersion, nil
	}

	currentPayload := payload
	var err error
	for v := fromVersion; v < config.CurrentVersion; v++ {
		upgrader, ok := config.Upgraders[v]
		if !ok {
			return nil, 0, fmt.Errorf("missing upgrader for version %d -> %d for event type %s", v, v+1, eventType)
		}
		currentPayload, err = upgrader.Upgrade(currentPayload)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to upgrade from v%d to v%d: %w", v, v+1, err)
		}
	}

	return currentPayload, config.CurrentVersion, nil
}

// BasePayloadUpgrader implements PayloadUpgrader by unmarshaling to a
// map, transforming, and marshaling back
type BasePayloadUpgrader struct {
	sourceVersion int
	targetVersion int
	transformFunc func(data map[string]any) (map[string]any, error)
}

// NewBasePayloadUpgrader creates a new map-transform upgrader
func NewBasePayloadUpgrader(source, target int, transform func(data map[string]any) (map[string]any, error)) *BasePayloadUpgrader {
	return &BasePayloadUpgrader{
		sourceVersion: source,
		targetVersion: target,
		transformFunc: transform,
	}
}

// SourceVersion returns the source version
func (u *BasePayloadUpgrader) SourceVersion() int {
	return u.sourceVersion
}

// TargetVersion returns the target version
func (u *BasePayloadUpgrader) TargetVersion() int {
	return u.targetVersion
}

// Upgrade transforms the payload from source to target version
func (u *BasePayloadUpgrader) Upgrade(payload []byte) ([]byte, error) {
	var data map[string]any
	if err := json.Unmarshal(payload, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	transformed, err := u.transformFunc(data)
	if err != nil {
		return nil, fmt.Errorf("transform failed: %w", err)
	}

	result, err := json.Marshal(transformed)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal transformed payload: %w", err)
	}

	return result, nil
}

// Ensure BasePayloadUpgrader implements PayloadUpgrader
var _ PayloadUpgrader = (*BasePayloadUpgrader)(nil)
