// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package handlers

import (
	"github.com/axonflow-oss/orchestration-core/internal/compression"
	"github.com/axonflow-oss/orchestration-core/internal/llmprovider"
	"github.com/axonflow-oss/orchestration-core/internal/types"
)

// Registry maps each of the ten closed-set intents to its Handler.
type Registry struct {
	handlers map[types.Intent]Handler
}

// NewRegistry builds the registry with the default handler for every
// intent in types.AllIntents.
func NewRegistry(llm llmprovider.Provider, compressor *compression.Service) *Registry {
	r := &Registry{handlers: make(map[types.Intent]Handler, len(types.AllIntents))}
	r.handlers[types.IntentExtract] = newExtractHandler(llm, compressor)
	r.handlers[types.IntentSummarize] = newSummarizeHandler(llm, compressor)
	r.handlers[types.IntentGenerate] = newGenerateHandler(llm, compressor)
	r.handlers[types.IntentValidate] = newValidateHandler(llm, compressor)
	r.handlers[types.IntentSend] = newSendHandler(llm, compressor)
	r.handlers[types.IntentTransform] = newTransformHandler(llm, compressor)
	r.handlers[types.IntentConditional] = newConditionalHandler(llm, compressor)
	r.handlers[types.IntentAggregate] = newAggregateHandler(llm, compressor)
	r.handlers[types.IntentFilter] = newFilterHandler(llm, compressor)
	r.handlers[types.IntentEnrich] = newEnrichHandler(llm, compressor)
	return r
}

// For returns the Handler registered for intent, or nil if unregistered
// (never the case for a valid intent after NewRegistry).
func (r *Registry) For(intent types.Intent) Handler {
	return r.handlers[intent]
}

// Register overrides or adds a handler for intent, letting a caller supply
// a custom or test double.
func (r *Registry) Register(intent types.Intent, h Handler) {
	r.handlers[intent] = h
}
