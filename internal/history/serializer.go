package history

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/latchflow/latchflow/internal/store"
)

// Entity type names used as the change-log partition key.
const (
	EntityBundle     = "BUNDLE"
	EntityUser       = "USER"
	EntityRecipient  = "RECIPIENT"
	EntityFile       = "FILE"
	EntityAssignment = "ASSIGNMENT"
	EntityPreset     = "PRESET"
	EntityTrigger    = "TRIGGER"
	EntityAction     = "ACTION"
	EntityMapping    = "MAPPING"
)

// StoreSerializer serializes aggregates straight from the store. The
// JSON round trip yields the map shape the canonical hasher expects.
func StoreSerializer(s store.Store) Serializer {
	return func(ctx context.Context, entityType, entityID string) (any, error) {
		var entity any
		var err error
		switch entityType {
		case EntityBundle:
			entity, err = s.GetBundle(ctx, entityID)
		case EntityUser:
			entity, err = s.GetUser(ctx, entityID)
		case EntityRecipient:
			entity, err = s.GetRecipient(ctx, entityID)
		case EntityFile:
			entity, err = s.GetFile(ctx, entityID)
		case EntityAssignment:
			entity, err = s.GetAssignment(ctx, entityID)
		case EntityPreset:
			entity, err = s.GetPreset(ctx, entityID)
		case EntityTrigger:
			entity, err = s.GetTriggerDefinition(ctx, entityID)
		case EntityAction:
			entity, err = s.GetActionDefinition(ctx, entityID)
		case EntityMapping:
			entity, err = s.GetMapping(ctx, entityID)
		default:
			return nil, fmt.Errorf("history: unknown entity type %q", entityType)
		}
		if err != nil {
			return nil, err
		}
		return toJSONShape(entity)
	}
}

func toJSONShape(entity any) (any, error) {
	data, err := json.Marshal(entity)
	if err != nil {
		return nil, fmt.Errorf("history: serialize entity: %w", err)
	}
	var shaped any
	if err := json.Unmarshal(data, &shaped); err != nil {
		return nil, fmt.Errorf("history: reshape entity: %w", err)
	}
	return shaped, nil
}
