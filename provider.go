package openh264

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Provider identifies a codec library implementation.
type Provider uint8

const (
	ProviderAuto     Provider = iota // Let library choose best available
	ProviderOpenH264                 // BSD H.264 enc/dec (libopenh264)
	providerCount
)

// License represents the software license of a provider.
type License uint8

const (
	LicenseGPL License = iota // Copyleft - requires source disclosure
	LicenseBSD                // Permissive - no copyleft obligations
)

// Permissive returns true if the license has no copyleft obligations.
func (l License) Permissive() bool { return l == LicenseBSD }

func (l License) String() string {
	switch l {
	case LicenseGPL:
		return "GPL"
	case LicenseBSD:
		return "BSD"
	default:
		return "unknown"
	}
}

// providerMeta contains static metadata about a provider.
type providerMeta struct {
	Name    string
	License License
	Encoder bool
	Decoder bool
}

// Static metadata table - indexed by Provider, zero allocations.
var providerInfo = [providerCount]providerMeta{
	ProviderAuto:     {"auto", LicenseBSD, false, false},
	ProviderOpenH264: {"openh264", LicenseBSD, true, true},
}

// Runtime availability - set by init() in provider implementations.
var providerAvailable [providerCount]atomic.Bool

// String returns the provider name.
func (p Provider) String() string {
	if p >= providerCount {
		return "unknown"
	}
	return providerInfo[p].Name
}

// License returns the provider's license type.
func (p Provider) License() License {
	if p >= providerCount {
		return LicenseGPL
	}
	return providerInfo[p].License
}

// CanEncode returns true if the provider supports encoding.
func (p Provider) CanEncode() bool {
	if p >= providerCount {
		return false
	}
	return providerInfo[p].Encoder
}

// CanDecode returns true if the provider supports decoding.
func (p Provider) CanDecode() bool {
	if p >= providerCount {
		return false
	}
	return providerInfo[p].Decoder
}

// Available returns true if the provider is usable at runtime.
func (p Provider) Available() bool {
	if p >= providerCount {
		return false
	}
	return providerAvailable[p].Load()
}

// ParseProvider resolves a provider name as used in configuration files.
// The empty string selects ProviderAuto.
func ParseProvider(name string) (Provider, error) {
	if name == "" {
		return ProviderAuto, nil
	}
	for p := Provider(0); p < providerCount; p++ {
		if providerInfo[p].Name == name {
			return p, nil
		}
	}
	return ProviderAuto, fmt.Errorf("%w: unknown provider %q", ErrInvalidParameter, name)
}

// MarshalText implements encoding.TextMarshaler.
func (p Provider) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Provider) UnmarshalText(text []byte) error {
	v, err := ParseProvider(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// setProviderAvailable marks a provider as available (called by implementations).
func setProviderAvailable(p Provider) {
	if p < providerCount {
		providerAvailable[p].Store(true)
	}
}

// --- Registry ---

type backendRegistry struct {
	mu       sync.RWMutex
	encoders map[Provider]EncoderBackendFactory
	decoders map[Provider]DecoderBackendFactory

	defaultEncoder Provider
	defaultDecoder Provider
}

var globalBackendRegistry = &backendRegistry{
	encoders: make(map[Provider]EncoderBackendFactory),
	decoders: make(map[Provider]DecoderBackendFactory),
}

// RegisterEncoderBackend registers an encoder backend factory for a provider.
// The first registered provider becomes the default for ProviderAuto.
func RegisterEncoderBackend(provider Provider, factory EncoderBackendFactory) {
	globalBackendRegistry.mu.Lock()
	defer globalBackendRegistry.mu.Unlock()

	globalBackendRegistry.encoders[provider] = factory
	if globalBackendRegistry.defaultEncoder == ProviderAuto {
		globalBackendRegistry.defaultEncoder = provider
	}
}

// RegisterDecoderBackend registers a decoder backend factory for a provider.
func RegisterDecoderBackend(provider Provider, factory DecoderBackendFactory) {
	globalBackendRegistry.mu.Lock()
	defer globalBackendRegistry.mu.Unlock()

	globalBackendRegistry.decoders[provider] = factory
	if globalBackendRegistry.defaultDecoder == ProviderAuto {
		globalBackendRegistry.defaultDecoder = provider
	}
}

// EncoderBackendFor returns the registered encoder factory for a provider.
func EncoderBackendFor(p Provider) (EncoderBackendFactory, error) {
	globalBackendRegistry.mu.RLock()
	defer globalBackendRegistry.mu.RUnlock()

	if p == ProviderAuto {
		p = globalBackendRegistry.defaultEncoder
	}
	factory, ok := globalBackendRegistry.encoders[p]
	if !ok || !p.Available() {
		return nil, fmt.Errorf("%w: %s encoder", ErrProviderNotFound, p)
	}
	return factory, nil
}

// DecoderBackendFor returns the registered decoder factory for a provider.
func DecoderBackendFor(p Provider) (DecoderBackendFactory, error) {
	globalBackendRegistry.mu.RLock()
	defer globalBackendRegistry.mu.RUnlock()

	if p == ProviderAuto {
		p = globalBackendRegistry.defaultDecoder
	}
	factory, ok := globalBackendRegistry.decoders[p]
	if !ok || !p.Available() {
		return nil, fmt.Errorf("%w: %s decoder", ErrProviderNotFound, p)
	}
	return factory, nil
}
