package core

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Regex for a single path node: ^[\p{L}\p{M}_:][\p{L}\p{M}\p{N}_:\-]*$
// Must start with a Unicode letter, underscore (`_`), or colon (`:`).
var pathNodePattern = regexp.MustCompile(`^[\p{L}\p{M}_:][\p{L}\p{M}\p{N}_:\-]*$`)

// PathSeparator separates the nodes of a device path, e.g. root.sg1.d1.
const PathSeparator = "."

// Reserved measurement names start with __
const reservedMeasurementPrefix = "__"

// Validator provides cached validation for device paths and measurement names.
type Validator struct {
	mu    sync.RWMutex
	cache map[string]error // Cache validation results to avoid repeated regex matching.
}

// NewValidator creates a new validator with an initialized cache.
func NewValidator() *Validator {
	return &Validator{
		cache: make(map[string]error),
	}
}

// ValidateDevice checks that path is a dot-separated list of valid nodes.
func (v *Validator) ValidateDevice(path string) error {
	return v.cached("device:"+path, func() error {
		if path == "" {
			return &ValidationError{Message: "cannot be empty", Field: "device", Value: path}
		}
		for _, node := range strings.Split(path, PathSeparator) {
			if !pathNodePattern.MatchString(node) {
				return &ValidationError{Message: fmt.Sprintf("node %q does not match pattern '%s'", node, pathNodePattern.String()), Field: "device", Value: path}
			}
		}
		return nil
	})
}

// ValidateMeasurement checks a single measurement name.
func (v *Validator) ValidateMeasurement(name string) error {
	return v.cached("measurement:"+name, func() error {
		switch {
		case name == "":
			return &ValidationError{Message: "cannot be empty", Field: "measurement", Value: name}
		case !pathNodePattern.MatchString(name):
			return &ValidationError{Message: fmt.Sprintf("does not match pattern '%s'", pathNodePattern.String()), Field: "measurement", Value: name}
		case strings.HasPrefix(name, reservedMeasurementPrefix):
			return &ValidationError{Message: fmt.Sprintf("is reserved (starts with '%s')", reservedMeasurementPrefix), Field: "measurement", Value: name}
		}
		return nil
	})
}

func (v *Validator) cached(key string, validate func() error) error {
	v.mu.RLock()
	err, found := v.cache[key]
	v.mu.RUnlock()
	if found {
		return err
	}

	err = validate()
	v.mu.Lock()
	v.cache[key] = err
	v.mu.Unlock()
	return err
}

// ValidateDeviceAndMeasurements is a helper to validate a device path and all
// of its measurement names, rejecting duplicates.
func ValidateDeviceAndMeasurements(v *Validator, device string, measurements []string) error {
	if err := v.ValidateDevice(device); err != nil {
		return err
	}
	if len(measurements) == 0 {
		return &ValidationError{Message: "at least one measurement is required", Field: "measurements", Value: device}
	}
	seen := make(map[string]struct{}, len(measurements))
	for _, m := range measurements {
		if err := v.ValidateMeasurement(m); err != nil {
			return err
		}
		if _, dup := seen[m]; dup {
			return &ValidationError{Message: "duplicate measurement", Field: "measurement", Value: m}
		}
		seen[m] = struct{}{}
	}
	return nil
}
