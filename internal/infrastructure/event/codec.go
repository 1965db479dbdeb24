package event

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/evercore/backend/internal/domain/shared"
	"github.com/go-playground/validator/v10"
)

// PayloadCodec encodes and decodes typed event payloads.
//
// Payloads form a tagged union keyed by eventType: each type registers a
// Go struct per schema version. Encoding validates the payload against
// its struct tags before it reaches the store; decoding runs the
// upgrader chain so consumers always see the current schema version.
type PayloadCodec struct {
	registry *VersionRegistry
	validate *validator.Validate
}

// NewPayloadCodec creates a new payload codec
func NewPayloadCodec() *PayloadCodec {
	return &PayloadCodec{
		registry: NewVersionRegistry(),
		validate: validator.New(),
	}
}

// Register registers a payload type with only one schema version
func (c *PayloadCodec) Register(prototype shared.EventPayload) {
	c.registry.RegisterSimple(prototype.EventType(), prototype)
}

// RegisterVersioned registers a payload type with migration support
func (c *PayloadCodec) RegisterVersioned(eventType string, currentVersion int, versions map[int]shared.EventPayload, upgraders ...PayloadUpgrader) error {
	return c.registry.RegisterVersioned(eventType, currentVersion, versions, upgraders...)
}

// CurrentVersion returns the latest schema version for an event type
func (c *PayloadCodec) CurrentVersion(eventType string) (int, bool) {
	return c.registry.CurrentVersion(eventType)
}

// IsRegistered checks if an event type is registered
func (c *PayloadCodec) IsRegistered(eventType string) bool {
	return c.registry.IsRegistered(eventType)
}

// Encode validates a payload and serializes it to JSON. The payload's
// type must be registered; unregistered payloads are rejected at the
// boundary rather than stored opaquely.
func (c *PayloadCodec) Encode(payload shared.EventPayload) ([]byte, error) {
	eventType := payload.EventType()
	if !c.registry.IsRegistered(eventType) {
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}
	if err := c.validate.Struct(payload); err != nil {
		return nil, fmt.Errorf("payload validation failed for %s: %w", eventType, err)
	}
	return json.Marshal(payload)
}

// Decode deserializes a stored payload, upgrading it to the current
// schema version when schemaVersion lags behind.
func (c *PayloadCodec) Decode(eventType string, schemaVersion int, data []byte) (shared.EventPayload, error) {
	config, ok := c.registry.GetConfig(eventType)
	if !ok {
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}

	if schemaVersion < 1 {
		schemaVersion = 1
	}
	payload := data
	if schemaVersion < config.CurrentVersion {
		upgraded, _, err := c.registry.UpgradePayload(eventType, data, schemaVersion)
		if err != nil {
			return nil, fmt.Errorf("failed to upgrade %s payload: %w", eventType, err)
		}
		payload = upgraded
	} else if schemaVersion > config.CurrentVersion {
		return nil, fmt.Errorf("event type %s: stored schema version %d is newer than registered version %d", eventType, schemaVersion, config.CurrentVersion)
	}

	prototype := config.Versions[config.CurrentVersion]
	t := reflect.TypeOf(prototype)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	decoded := reflect.New(t).Interface()
	if err := json.Unmarshal(payload, decoded); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s payload: %w", eventType, err)
	}

	typed, ok := decoded.(shared.EventPayload)
	if !ok {
		return nil, fmt.Errorf("decoded %s payload does not implement EventPayload", eventType)
	}
	return typed, nil
}

// DecodeRecord decodes a stored event record's payload
func (c *PayloadCodec) DecodeRecord(rec *shared.EventRecord) (shared.EventPayload, error) {
	return c.Decode(rec.EventType, rec.SchemaVersion, rec.Payload)
}
