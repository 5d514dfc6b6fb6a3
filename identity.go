package oauth

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrPass is the sentinel a strategy returns to defer to the next strategy
// in the chain. It never surfaces to callers.
var ErrPass = errors.New("pass")

// KindClient is the default principal kind.
const KindClient = "client"

// SerializeFunc turns a principal into a value safe to persist across the
// consent round trip. Return ErrPass to defer to the next strategy.
type SerializeFunc func(ctx context.Context, principal any) (string, error)

// DeserializeFunc restores a principal from its serialized form. Return
// ErrPass to defer to the next strategy. Returning (nil, nil) is a decisive
// non-error result meaning the principal is no longer valid (for example a
// revoked client); callers treat it as an authentication failure, not a
// system error.
type DeserializeFunc func(ctx context.Context, id string) (any, error)

// IdentityRegistry holds ordered serialization and deserialization strategy
// chains per principal kind. Strategies are invoked in registration order;
// the first decisive result wins. Registration happens at startup and the
// chains are read-only afterwards.
type IdentityRegistry struct {
	mu            sync.RWMutex
	serializers   map[string][]SerializeFunc
	deserializers map[string][]DeserializeFunc
}

// NewIdentityRegistry creates an empty registry.
func NewIdentityRegistry() *IdentityRegistry {
	return &IdentityRegistry{
		serializers:   make(map[string][]SerializeFunc),
		deserializers: make(map[string][]DeserializeFunc),
	}
}

// RegisterSerializer appends a serialization strategy for a principal kind.
func (r *IdentityRegistry) RegisterSerializer(kind string, fn SerializeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.serializers[kind] = append(r.serializers[kind], fn)
}

// RegisterDeserializer appends a deserialization strategy for a principal kind.
func (r *IdentityRegistry) RegisterDeserializer(kind string, fn DeserializeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deserializers[kind] = append(r.deserializers[kind], fn)
}

// RegisterClientSerializer appends a serialization strategy for clients.
func (r *IdentityRegistry) RegisterClientSerializer(fn SerializeFunc) {
	r.RegisterSerializer(KindClient, fn)
}

// RegisterClientDeserializer appends a deserialization strategy for clients.
func (r *IdentityRegistry) RegisterClientDeserializer(fn DeserializeFunc) {
	r.RegisterDeserializer(KindClient, fn)
}

// Serialize runs the serialization chain for kind. The first strategy that
// does not pass determines the outcome. With no strategies registered, or
// when every strategy passes, it fails with a *ConfigError naming the
// missing registration.
func (r *IdentityRegistry) Serialize(ctx context.Context, kind string, principal any) (string, error) {
	r.mu.RLock()
	chain := r.serializers[kind]
	r.mu.RUnlock()

	for _, fn := range chain {
		id, err := invokeSerializer(ctx, fn, principal)
		if errors.Is(err, ErrPass) {
			continue
		}
		if err != nil {
			return "", err
		}
		return id, nil
	}
	return "", serializeConfigError(kind)
}

// Deserialize runs the deserialization chain for kind. A strategy returning
// (nil, nil) is decisive: the principal is no longer valid and (nil, nil)
// is returned without consulting later strategies.
func (r *IdentityRegistry) Deserialize(ctx context.Context, kind string, id string) (any, error) {
	r.mu.RLock()
	chain := r.deserializers[kind]
	r.mu.RUnlock()

	for _, fn := range chain {
		principal, err := invokeDeserializer(ctx, fn, id)
		if errors.Is(err, ErrPass) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return principal, nil
	}
	return nil, deserializeConfigError(kind)
}

// SerializeClient serializes a client principal.
func (r *IdentityRegistry) SerializeClient(ctx context.Context, client any) (string, error) {
	return r.Serialize(ctx, KindClient, client)
}

// DeserializeClient restores a client principal.
func (r *IdentityRegistry) DeserializeClient(ctx context.Context, id string) (any, error) {
	return r.Deserialize(ctx, KindClient, id)
}

// invokeSerializer calls a strategy with panic recovery: a fault surfaces
// as an error carrying the fault's message instead of propagating raw.
func invokeSerializer(ctx context.Context, fn SerializeFunc, principal any) (id string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%v", rec)
		}
	}()
	return fn(ctx, principal)
}

func invokeDeserializer(ctx context.Context, fn DeserializeFunc, id string) (principal any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%v", rec)
		}
	}()
	return fn(ctx, id)
}

func serializeConfigError(kind string) *ConfigError {
	if kind == KindClient {
		return NewConfigError("Failed to serialize client. Register serialization function using RegisterClientSerializer().")
	}
	return NewConfigError("Failed to serialize %s. Register serialization function using RegisterSerializer().", kind)
}

func deserializeConfigError(kind string) *ConfigError {
	if kind == KindClient {
		return NewConfigError("Failed to deserialize client. Register deserialization function using RegisterClientDeserializer().")
	}
	return NewConfigError("Failed to deserialize %s. Register deserialization function using RegisterDeserializer().", kind)
}
