package eventstore

import (
	"encoding/json"
	"fmt"

	"github.com/evercore/backend/internal/domain/shared"
	"github.com/evercore/backend/internal/infrastructure/event"
	"github.com/google/uuid"
)

// EncodeBatch validates and serializes typed payloads into proposed
// events ready for appending. Event IDs are assigned here so callers
// can correlate results without waiting for the append.
func EncodeBatch(codec *event.PayloadCodec, events []ProposedPayload) ([]shared.ProposedEvent, error) {
	proposed := make([]shared.ProposedEvent, 0, len(events))
	for _, e := range events {
		data, err := codec.Encode(e.Payload)
		if err != nil {
			return nil, err
		}

		schemaVersion, _ := codec.CurrentVersion(e.Payload.EventType())
		category := e.Category
		if category == "" {
			category = shared.CategoryDomain
		}

		var metadata []byte
		if len(e.Metadata) > 0 {
			metadata, err = json.Marshal(e.Metadata)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal event metadata: %w", err)
			}
		}

		proposed = append(proposed, shared.ProposedEvent{
			EventID:        uuid.New(),
			EventType:      e.Payload.EventType(),
			SchemaVersion:  schemaVersion,
			Category:       category,
			CorrelationID:  e.CorrelationID,
			CausationID:    e.CausationID,
			IdempotencyKey: e.IdempotencyKey,
			Payload:        data,
			Metadata:       metadata,
		})
	}
	return proposed, nil
}

// DecodeAll decodes stored records into current-version payloads
func DecodeAll(codec *event.PayloadCodec, records []*shared.EventRecord) ([]*DecodedEvent, error) {
	decoded := make([]*DecodedEvent, 0, len(records))
	for _, rec := range records {
		payload, err := codec.DecodeRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("event %s (%s): %w", rec.EventID, rec.EventType, err)
		}
		decoded = append(decoded, &DecodedEvent{Record: rec, Payload: payload})
	}
	return decoded, nil
}
