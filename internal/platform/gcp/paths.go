package gcp

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Blob keys are namespaced per entity so tenant exports never collide:
// exports/{entity_id}/ml/{models|inference}/{model_key}/{run_id}/{name}

func ModelExportKey(entityID uuid.UUID, modelKey string, runID uuid.UUID, name string) string {
	return exportKey(entityID, "models", modelKey, runID, name)
}

func InferenceExportKey(entityID uuid.UUID, modelKey string, runID uuid.UUID, name string) string {
	return exportKey(entityID, "inference", modelKey, runID, name)
}

func exportKey(entityID uuid.UUID, kind, modelKey string, runID uuid.UUID, name string) string {
	return fmt.Sprintf(
		"exports/%s/ml/%s/%s/%s/%s",
		entityID,
		kind,
		strings.TrimSpace(modelKey),
		runID,
		strings.TrimLeft(strings.TrimSpace(name), "/"),
	)
}
