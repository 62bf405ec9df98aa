// Package config loads the display configuration file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/banshee-data/objectdisplay/internal/meshcache"
	"github.com/banshee-data/objectdisplay/internal/objectdb"
	"github.com/banshee-data/objectdisplay/internal/pipeline"
	"github.com/banshee-data/objectdisplay/internal/scene"
)

// DefaultConfigPath is the path to the canonical display defaults file.
const DefaultConfigPath = "config/display.defaults.json"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// RGB is a colour without alpha, components in [0, 1].
type RGB struct {
	R float64 `json:"r"`
	G float64 `json:"g"`
	B float64 `json:"b"`
}

// DisplayConfig is the root configuration of the object display.
// Every field is optional; the Get* methods supply defaults.
type DisplayConfig struct {
	// Pipeline
	FixedFrame             *string `json:"fixed_frame,omitempty"`
	TransformFailurePolicy *string `json:"transform_failure_policy,omitempty"`
	TransformCache         *string `json:"transform_cache,omitempty"` // duration string like "10s"

	// Styling
	Color      *RGB     `json:"color,omitempty"`
	Alpha      *float64 `json:"alpha,omitempty"`
	ShowLabels *bool    `json:"show_labels,omitempty"`

	// Mesh resolution
	TempDir       *string `json:"temp_dir,omitempty"`
	MeshExtension *string `json:"mesh_extension,omitempty"`
	DefaultDB     *string `json:"default_db,omitempty"` // database identifier for detections that name none

	// Servers; an empty address disables the server.
	VisualiserListenAddr *string `json:"visualiser_listen_addr,omitempty"`
	AdminListenAddr      *string `json:"admin_listen_addr,omitempty"`
}

func ptrString(v string) *string    { return &v }
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }

// DefaultDisplayConfig returns a config with every field set to its default.
func DefaultDisplayConfig() *DisplayConfig {
	return &DisplayConfig{
		FixedFrame:             ptrString(pipeline.DefaultFixedFrame),
		TransformFailurePolicy: ptrString(string(pipeline.AbandonBatch)),
		TransformCache:         ptrString("10s"),
		Color:                  &RGB{R: 1, G: 0.5, B: 0},
		Alpha:                  ptrFloat64(1),
		ShowLabels:             ptrBool(true),
		TempDir:                ptrString(""),
		MeshExtension:          ptrString(".stl"),
		DefaultDB:              ptrString(""),
		VisualiserListenAddr:   ptrString("localhost:50061"),
		AdminListenAddr:        ptrString(""),
	}
}

// LoadDisplayConfig loads a DisplayConfig from a JSON file.
// The file must have a .json extension and be under 1MB. Fields omitted
// from the file keep their defaults, so partial configs are safe.
func LoadDisplayConfig(path string) (*DisplayConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &DisplayConfig{}
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func unit(name string, v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%s must be between 0 and 1, got %g", name, v)
	}
	return nil
}

// Validate checks that the configuration values are valid.
func (c *DisplayConfig) Validate() error {
	if c.FixedFrame != nil && strings.TrimSpace(*c.FixedFrame) == "" {
		return fmt.Errorf("fixed_frame must not be blank")
	}

	if c.TransformFailurePolicy != nil {
		if p := pipeline.TransformFailurePolicy(*c.TransformFailurePolicy); !p.Valid() {
			return fmt.Errorf("transform_failure_policy must be %q or %q, got %q",
				pipeline.AbandonBatch, pipeline.SkipDetection, p)
		}
	}

	if c.TransformCache != nil && *c.TransformCache != "" {
		d, err := time.ParseDuration(*c.TransformCache)
		if err != nil {
			return fmt.Errorf("invalid transform_cache '%s': %w", *c.TransformCache, err)
		}
		if d <= 0 {
			return fmt.Errorf("transform_cache must be positive, got %s", d)
		}
	}

	if c.Color != nil {
		for _, ch := range []struct {
			name string
			v    float64
		}{{"color.r", c.Color.R}, {"color.g", c.Color.G}, {"color.b", c.Color.B}} {
			if err := unit(ch.name, ch.v); err != nil {
				return err
			}
		}
	}
	if c.Alpha != nil {
		if err := unit("alpha", *c.Alpha); err != nil {
			return err
		}
	}

	if c.MeshExtension != nil && *c.MeshExtension != "" {
		ext := *c.MeshExtension
		if !strings.HasPrefix(ext, ".") || strings.ContainsAny(ext, `/\`) {
			return fmt.Errorf("mesh_extension must look like \".stl\", got %q", ext)
		}
	}

	if c.DefaultDB != nil {
		if _, err := objectdb.ParseParameters(*c.DefaultDB); err != nil {
			return fmt.Errorf("invalid default_db: %w", err)
		}
	}
	return nil
}

// GetFixedFrame returns the fixed_frame value or the default.
func (c *DisplayConfig) GetFixedFrame() string {
	if c.FixedFrame == nil || *c.FixedFrame == "" {
		return pipeline.DefaultFixedFrame
	}
	return *c.FixedFrame
}

// GetTransformFailurePolicy returns the transform_failure_policy value or the default.
func (c *DisplayConfig) GetTransformFailurePolicy() pipeline.TransformFailurePolicy {
	if c.TransformFailurePolicy == nil || *c.TransformFailurePolicy == "" {
		return pipeline.AbandonBatch
	}
	return pipeline.TransformFailurePolicy(*c.TransformFailurePolicy)
}

// GetTransformCache parses and returns TransformCache as a time.Duration.
func (c *DisplayConfig) GetTransformCache() time.Duration {
	if c.TransformCache == nil || *c.TransformCache == "" {
		return 10 * time.Second // default
	}
	d, err := time.ParseDuration(*c.TransformCache)
	if err != nil || d <= 0 {
		return 10 * time.Second // default on parse error
	}
	return d
}

// GetColor returns the colour value or the default.
func (c *DisplayConfig) GetColor() RGB {
	if c.Color == nil {
		return RGB{R: 1, G: 0.5, B: 0}
	}
	return *c.Color
}

// GetAlpha returns the alpha value or the default.
func (c *DisplayConfig) GetAlpha() float64 {
	if c.Alpha == nil {
		return 1
	}
	return *c.Alpha
}

// GetShowLabels returns the show_labels value or the default.
func (c *DisplayConfig) GetShowLabels() bool {
	if c.ShowLabels == nil {
		return true
	}
	return *c.ShowLabels
}

// GetTempDir returns temp_dir; empty means the system temp directory.
func (c *DisplayConfig) GetTempDir() string {
	if c.TempDir == nil {
		return ""
	}
	return *c.TempDir
}

// GetMeshExtension returns the mesh_extension value or the default.
func (c *DisplayConfig) GetMeshExtension() string {
	if c.MeshExtension == nil || *c.MeshExtension == "" {
		return ".stl"
	}
	return *c.MeshExtension
}

// GetDefaultDB returns default_db; empty selects the stock CouchDB.
func (c *DisplayConfig) GetDefaultDB() string {
	if c.DefaultDB == nil {
		return ""
	}
	return *c.DefaultDB
}

// GetVisualiserListenAddr returns the visualiser_listen_addr value or the default.
func (c *DisplayConfig) GetVisualiserListenAddr() string {
	if c.VisualiserListenAddr == nil {
		return "localhost:50061"
	}
	return *c.VisualiserListenAddr
}

// GetAdminListenAddr returns admin_listen_addr; empty disables the admin server.
func (c *DisplayConfig) GetAdminListenAddr() string {
	if c.AdminListenAddr == nil {
		return ""
	}
	return *c.AdminListenAddr
}

// Style returns the visual styling the config describes.
func (c *DisplayConfig) Style() scene.Style {
	rgb := c.GetColor()
	return scene.Style{
		Color:      scene.Color{R: rgb.R, G: rgb.G, B: rgb.B, A: c.GetAlpha()},
		ShowLabels: c.GetShowLabels(),
	}
}

// PipelineOptions converts the config into pipeline options.
func (c *DisplayConfig) PipelineOptions() pipeline.Options {
	style := c.Style()
	return pipeline.Options{
		FixedFrame: c.GetFixedFrame(),
		Policy:     c.GetTransformFailurePolicy(),
		Style:      &style,
	}
}

// ResolverOptions converts the config into mesh resolver options.
func (c *DisplayConfig) ResolverOptions() meshcache.Options {
	return meshcache.Options{
		TempDir:   c.GetTempDir(),
		Extension: c.GetMeshExtension(),
	}
}
