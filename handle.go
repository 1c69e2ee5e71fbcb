package openh264

import "fmt"

// encoderHandle owns an EncoderBackend. The backend is destroyed exactly once,
// either by a failed open or by close.
type encoderHandle struct {
	backend EncoderBackend
}

// openEncoder creates and initializes a backend. On any failure nothing is
// left allocated.
func openEncoder(factory EncoderBackendFactory, params EncoderParams) (*encoderHandle, error) {
	if factory == nil {
		return nil, fmt.Errorf("%w: %w", ErrEncoder, ErrProviderNotFound)
	}
	backend, err := factory()
	if err != nil {
		return nil, fmt.Errorf("%w: create encoder: %w", ErrEncoder, err)
	}
	if backend == nil {
		return nil, fmt.Errorf("%w: create encoder returned nil", ErrEncoder)
	}
	h := &encoderHandle{backend: backend}
	if err := backend.Initialize(params); err != nil {
		h.close()
		return nil, fmt.Errorf("%w: initialize encoder: %w", ErrEncoder, err)
	}
	return h, nil
}

func (h *encoderHandle) close() {
	if h == nil || h.backend == nil {
		return
	}
	h.backend.Destroy()
	h.backend = nil
}

// decoderHandle owns a DecoderBackend.
type decoderHandle struct {
	backend     DecoderBackend
	initialized bool
}

func openDecoder(factory DecoderBackendFactory, params DecoderParams) (*decoderHandle, error) {
	if factory == nil {
		return nil, fmt.Errorf("%w: %w", ErrDecoder, ErrProviderNotFound)
	}
	backend, err := factory()
	if err != nil {
		return nil, fmt.Errorf("%w: create decoder: %w", ErrDecoder, err)
	}
	if backend == nil {
		return nil, fmt.Errorf("%w: create decoder returned nil", ErrDecoder)
	}
	h := &decoderHandle{backend: backend}
	if err := backend.Initialize(params); err != nil {
		// The library expects Uninitialize even after a failed Initialize.
		h.initialized = true
		h.close()
		return nil, fmt.Errorf("%w: initialize decoder: %w", ErrDecoder, err)
	}
	h.initialized = true
	return h, nil
}

func (h *decoderHandle) close() {
	if h == nil || h.backend == nil {
		return
	}
	if h.initialized {
		h.backend.Uninitialize()
		h.initialized = false
	}
	h.backend.Destroy()
	h.backend = nil
}
