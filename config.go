package openh264

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// EncoderConfig configures an H264Encoder session.
type EncoderConfig struct {
	Provider Provider `yaml:"provider"` // Backend provider (ProviderAuto = registry default)

	Width        int `yaml:"width"`         // Frame width
	Height       int `yaml:"height"`        // Frame height
	MaxFramerate int `yaml:"max_framerate"` // Maximum input framerate

	TargetBitrateKbps int `yaml:"target_bitrate"` // Target bitrate (0 = unspecified)
	StartBitrateKbps  int `yaml:"start_bitrate"`  // Initial bitrate (0 = unspecified)
	MaxBitrateKbps    int `yaml:"max_bitrate"`    // Maximum bitrate (0 = no limit)

	NumberOfCores int `yaml:"cores"` // Encoder threads (0 = 1)

	// ApplyRates forwards SetRates to the running encoder. When false,
	// SetRates only records the clamped request.
	ApplyRates bool `yaml:"apply_rates"`
}

// DefaultEncoderConfig returns a default encoder configuration.
func DefaultEncoderConfig(width, height int) EncoderConfig {
	return EncoderConfig{
		Provider:          ProviderAuto,
		Width:             width,
		Height:            height,
		MaxFramerate:      30,
		TargetBitrateKbps: 1500,
		NumberOfCores:     1,
	}
}

// Validate checks the configuration against the encoder's parameter contract.
func (c EncoderConfig) Validate() error {
	if c.MaxFramerate < 1 {
		return fmt.Errorf("%w: max framerate %d", ErrInvalidParameter, c.MaxFramerate)
	}
	// allow zero to represent an unspecified max bitrate
	if c.MaxBitrateKbps > 0 && c.StartBitrateKbps > c.MaxBitrateKbps {
		return fmt.Errorf("%w: start bitrate %d exceeds max bitrate %d",
			ErrInvalidParameter, c.StartBitrateKbps, c.MaxBitrateKbps)
	}
	if c.Width < 1 || c.Height < 1 {
		return fmt.Errorf("%w: size %dx%d", ErrInvalidParameter, c.Width, c.Height)
	}
	if c.NumberOfCores < 0 || c.TargetBitrateKbps < 0 || c.StartBitrateKbps < 0 || c.MaxBitrateKbps < 0 {
		return fmt.Errorf("%w: negative value", ErrInvalidParameter)
	}
	return nil
}

// targetBitrateBps picks the bitrate handed to the library at init.
func (c EncoderConfig) targetBitrateBps() int {
	kbps := c.TargetBitrateKbps
	if kbps == 0 {
		kbps = c.StartBitrateKbps
	}
	if kbps == 0 {
		kbps = c.MaxBitrateKbps
	}
	if c.MaxBitrateKbps > 0 && kbps > c.MaxBitrateKbps {
		kbps = c.MaxBitrateKbps
	}
	return kbps * 1000
}

// MaxEncodedImageSize is the default capacity of the decoder scratch buffer.
const MaxEncodedImageSize = 1 << 20

// DecoderConfig configures an H264Decoder session.
type DecoderConfig struct {
	Provider Provider `yaml:"provider"` // Backend provider (ProviderAuto = registry default)

	// StrictKeyFrame rejects input until a complete key frame is decoded.
	StrictKeyFrame bool `yaml:"strict_key_frame"`

	// ScratchSize is the capacity of the start-code scratch buffer
	// (0 = MaxEncodedImageSize).
	ScratchSize int `yaml:"scratch_size"`

	NumberOfCores int `yaml:"cores"` // Decoder threads (0 = 1)
}

// DefaultDecoderConfig returns a default decoder configuration.
func DefaultDecoderConfig() DecoderConfig {
	return DecoderConfig{
		Provider:      ProviderAuto,
		ScratchSize:   MaxEncodedImageSize,
		NumberOfCores: 1,
	}
}

func (c DecoderConfig) scratchSize() int {
	if c.ScratchSize <= 0 {
		return MaxEncodedImageSize
	}
	return c.ScratchSize
}

// Config is the file representation used by the command line tools.
type Config struct {
	Encoder EncoderConfig `yaml:"encoder"`
	Decoder DecoderConfig `yaml:"decoder"`
	Log     LogConfig     `yaml:"log"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Encoder: DefaultEncoderConfig(640, 480),
		Decoder: DefaultDecoderConfig(),
		Log:     LogConfig{Level: "info"},
	}
}

// LoadConfig reads a YAML file on top of DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := ParseConfig(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig decodes YAML into cfg, keeping values the document omits.
func ParseConfig(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return err
	}
	return cfg.Encoder.Validate()
}
