package validation

import (
	"fmt"
	"regexp"
)

var (
	// transcriptIDRegex matches tr_ followed by eight hex digits
	transcriptIDRegex = regexp.MustCompile(`^tr_[0-9a-f]{8}$`)

	// profileRegex matches profile names (alphanumeric, dash, underscore, dot)
	profileRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)
)

const maxProfileLength = 64

// ValidateTranscriptID checks the format of a transcript ID
func ValidateTranscriptID(id string) error {
	if id == "" {
		return fmt.Errorf("transcript ID cannot be empty")
	}
	if !transcriptIDRegex.MatchString(id) {
		return fmt.Errorf("invalid transcript ID format: %s", id)
	}
	return nil
}

// ValidateProfile checks a credential profile name
func ValidateProfile(name string) error {
	if name == "" {
		return fmt.Errorf("profile cannot be empty")
	}
	if len(name) > maxProfileLength {
		return fmt.Errorf("profile name too long: %d characters (max %d)", len(name), maxProfileLength)
	}
	if name == "." || name == ".." || !profileRegex.MatchString(name) {
		return fmt.Errorf("invalid profile name: %s", name)
	}
	return nil
}
