package sqlite

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/pario-ai/qcache/pkg/models"
)

// Payload files hold a self-describing JSON envelope around models.Result.
// Anything that does not decode into the current envelope version is treated
// as corrupt and never returned to callers.
const (
	payloadFormat  = "qcache.result"
	payloadVersion = 1
)

type envelope struct {
	Format    string         `json:"format"`
	Version   int            `json:"version"`
	Key       string         `json:"key"`
	CreatedAt time.Time      `json:"created_at"`
	Payload   *models.Result `json:"payload"`
}

// Encode serializes a result for the payload file of key.
func Encode(key string, createdAt time.Time, r models.Result) ([]byte, error) {
	data, err := json.Marshal(envelope{
		Format:    payloadFormat,
		Version:   payloadVersion,
		Key:       key,
		CreatedAt: createdAt.UTC(),
		Payload:   &r,
	})
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}

// Decode parses a payload file written for key.
func Decode(key string, data []byte) (models.Result, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return models.Result{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	switch {
	case env.Format != payloadFormat:
		return models.Result{}, fmt.Errorf("%w: unknown format %q", ErrCorrupt, env.Format)
	case env.Version != payloadVersion:
		return models.Result{}, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, env.Version)
	case env.Key != key:
		return models.Result{}, fmt.Errorf("%w: payload belongs to key %s", ErrCorrupt, env.Key)
	case env.Payload == nil:
		return models.Result{}, fmt.Errorf("%w: missing payload", ErrCorrupt)
	}
	return *env.Payload, nil
}
