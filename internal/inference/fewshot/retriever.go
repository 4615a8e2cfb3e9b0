// Package fewshot loads curated example pairs used to steer model calls.
// Each example is a diagram image stored next to its expected output, named
// <image>.png and <image>.png.description.
package fewshot

import (
	"context"
	"fmt"
	"strings"

	"github.com/aversant/threatcanvas/internal/common"
	"github.com/aversant/threatcanvas/internal/objectstore"
)

const examplesPrefix = "examples"

// Example is one image with the description the model should imitate.
type Example struct {
	Image       []byte
	Description string
}

// Retriever reads example pairs from the object store.
type Retriever struct {
	store objectstore.Store
}

func NewRetriever(store objectstore.Store) *Retriever {
	return &Retriever{store: store}
}

// OperationExamples returns the complete pairs stored under the operation's
// folder. Images without a sibling description are logged and skipped.
func (r *Retriever) OperationExamples(ctx context.Context, operation string) ([]Example, error) {
	prefix := examplesPrefix + "/" + operation
	keys, err := r.store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list examples for %s: %w", operation, err)
	}
	known := make(map[string]bool, len(keys))
	for _, key := range keys {
		known[key] = true
	}

	var examples []Example
	for _, key := range keys {
		if !strings.HasSuffix(key, ".png") {
			continue
		}
		descriptionKey := key + ".description"
		if !known[descriptionKey] {
			common.Logger().Warn("fewshot: example image without description", "key", key)
			continue
		}
		image, err := r.store.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("read example %s: %w", key, err)
		}
		description, err := r.store.Get(ctx, descriptionKey)
		if err != nil {
			return nil, fmt.Errorf("read example %s: %w", descriptionKey, err)
		}
		examples = append(examples, Example{Image: image, Description: string(description)})
	}
	if len(examples) == 0 {
		common.Logger().Warn("fewshot: no examples found", "operation", operation)
	}
	return examples, nil
}
