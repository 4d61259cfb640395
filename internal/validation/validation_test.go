package validation

import (
	"strings"
	"testing"
)

func TestValidateTranscriptID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"valid", "tr_0a1b2c3d", false},
		{"empty", "", true},
		{"missing prefix", "0a1b2c3d", true},
		{"uppercase hex", "tr_0A1B2C3D", true},
		{"too short", "tr_0a1b", true},
		{"SQL injection attempt", "tr_'; DROP TABLE transcripts; --", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTranscriptID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTranscriptID() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateProfile(t *testing.T) {
	tests := []struct {
		name    string
		profile string
		wantErr bool
	}{
		{"default", "default", false},
		{"with dash and dot", "work-2.staging", false},
		{"empty", "", true},
		{"space", "my profile", true},
		{"path traversal attempt", "../etc", true},
		{"dot dot", "..", true},
		{"too long", strings.Repeat("a", 65), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateProfile(tt.profile)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateProfile() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
