package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kozaktomas/face-attendance/internal/session"
)

// Camera types.
const (
	CameraEntry = "entry"
	CameraExit  = "exit"
)

// Camera is one entry of the cameras file.
type Camera struct {
	ID           string `yaml:"id" json:"id"`
	Name         string `yaml:"name" json:"name"`
	StreamSource string `yaml:"stream_source" json:"stream_source"`
	Type         string `yaml:"type" json:"type"`
	Resolution   string `yaml:"resolution" json:"resolution,omitempty"` // WIDTHxHEIGHT, e.g. 1920x1080
	FPS          int    `yaml:"fps" json:"fps,omitempty"`
	Active       *bool  `yaml:"active" json:"active"`
}

// IsActive reports whether the camera starts with the service. Cameras are
// active unless the file says otherwise.
func (c Camera) IsActive() bool {
	return c.Active == nil || *c.Active
}

// FrameSize parses Resolution. Zero values mean unknown.
func (c Camera) FrameSize() (width, height int, err error) {
	if c.Resolution == "" {
		return 0, 0, nil
	}
	w, h, ok := strings.Cut(strings.ToLower(c.Resolution), "x")
	if !ok {
		return 0, 0, fmt.Errorf("camera %s: resolution %q is not WIDTHxHEIGHT", c.ID, c.Resolution)
	}
	width, errW := strconv.Atoi(strings.TrimSpace(w))
	height, errH := strconv.Atoi(strings.TrimSpace(h))
	if errW != nil || errH != nil || width <= 0 || height <= 0 {
		return 0, 0, fmt.Errorf("camera %s: resolution %q is not WIDTHxHEIGHT", c.ID, c.Resolution)
	}
	return width, height, nil
}

// Session converts the camera into a session description.
func (c Camera) Session() session.Camera {
	w, h, _ := c.FrameSize()
	return session.Camera{
		ID:          c.ID,
		Name:        c.Name,
		Source:      c.StreamSource,
		FrameWidth:  w,
		FrameHeight: h,
	}
}

type camerasFile struct {
	Cameras []Camera `yaml:"cameras"`
}

// LoadCameras reads and validates a cameras YAML file.
func LoadCameras(path string) ([]Camera, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cameras file: %w", err)
	}
	return ParseCameras(data)
}

// ParseCameras parses and validates cameras YAML.
func ParseCameras(data []byte) ([]Camera, error) {
	var file camerasFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse cameras file: %w", err)
	}
	for i := range file.Cameras {
		if file.Cameras[i].Type == "" {
			file.Cameras[i].Type = CameraEntry
		}
	}
	if err := validateCameras(file.Cameras); err != nil {
		return nil, err
	}
	return file.Cameras, nil
}

func validateCameras(cameras []Camera) error {
	var errs []error
	seen := make(map[string]bool, len(cameras))
	for i, c := range cameras {
		if c.ID == "" {
			errs = append(errs, fmt.Errorf("camera #%d has no id", i+1))
			continue
		}
		if seen[c.ID] {
			errs = append(errs, fmt.Errorf("duplicate camera id %s", c.ID))
		}
		seen[c.ID] = true
		if c.StreamSource == "" {
			errs = append(errs, fmt.Errorf("camera %s has no stream_source", c.ID))
		}
		if c.Type != CameraEntry && c.Type != CameraExit {
			errs = append(errs, fmt.Errorf("camera %s: type must be entry or exit, got %q", c.ID, c.Type))
		}
		if c.FPS < 0 {
			errs = append(errs, fmt.Errorf("camera %s: fps must not be negative", c.ID))
		}
		if _, _, err := c.FrameSize(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FindCamera returns the configured camera with the given id.
func (c *Config) FindCamera(id string) (Camera, bool) {
	for _, cam := range c.Cameras {
		if cam.ID == id {
			return cam, true
		}
	}
	return Camera{}, false
}
