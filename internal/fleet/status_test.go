package fleet

import (
	"errors"
	"testing"
)

func TestParseStatusReport(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{
			name:    "valid minimal",
			payload: `{"deviceId":"d1","organizationId":"o1","online":true,"reportedAt":"2024-01-01T00:00:00Z"}`,
		},
		{
			name:    "valid full",
			payload: `{"deviceId":"d1","organizationId":"o1","online":false,"battery":87.5,"firmwareVersion":"1.0.0","reportedAt":"2024-01-01T00:00:00Z","metadata":{"ip":"10.0.0.2"}}`,
		},
		{
			name:    "missing reportedAt",
			payload: `{"deviceId":"d1","organizationId":"o1","online":true}`,
			wantErr: true,
		},
		{
			name:    "missing deviceId",
			payload: `{"organizationId":"o1","reportedAt":"2024-01-01T00:00:00Z"}`,
			wantErr: true,
		},
		{
			name:    "missing organizationId",
			payload: `{"deviceId":"d1","reportedAt":"2024-01-01T00:00:00Z"}`,
			wantErr: true,
		},
		{
			name:    "empty string counts as missing",
			payload: `{"deviceId":"","organizationId":"o1","reportedAt":"2024-01-01T00:00:00Z"}`,
			wantErr: true,
		},
		{
			name:    "not json",
			payload: `online`,
			wantErr: true,
		},
		{
			name:    "wrong type",
			payload: `{"deviceId":42,"organizationId":"o1","reportedAt":"x"}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseStatusReport([]byte(tt.payload))
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidReport) {
					t.Errorf("ParseStatusReport() error = %v, want ErrInvalidReport", err)
				}
				return
			}
			if err != nil {
				t.Errorf("ParseStatusReport() unexpected error = %v", err)
			}
		})
	}
}

func TestParseStatusReport_OptionalFields(t *testing.T) {
	r, err := ParseStatusReport([]byte(`{"deviceId":"d1","organizationId":"o1","reportedAt":"t"}`))
	if err != nil {
		t.Fatalf("ParseStatusReport() error = %v", err)
	}
	if r.Online != nil || r.Battery != nil || r.FirmwareVersion != nil || r.Metadata != nil {
		t.Errorf("absent optional fields should decode as nil, got %+v", r)
	}
}

func TestDeviceStatusApply(t *testing.T) {
	s := &DeviceStatus{}
	s.Apply(StatusReport{
		DeviceID:        "d1",
		OrganizationID:  "o1",
		Online:          ptr(true),
		Battery:         ptr(80.0),
		FirmwareVersion: ptr("1.0.0"),
		ReportedAt:      "2024-01-01T00:00:00Z",
		Metadata:        map[string]any{"ip": "10.0.0.2", "stream": "jazz"},
	})

	// Partial report: only online and one metadata key.
	s.Apply(StatusReport{
		DeviceID:       "d1",
		OrganizationID: "o1",
		Online:         ptr(false),
		ReportedAt:     "2024-01-01T00:05:00Z",
		Metadata:       map[string]any{"stream": "rock"},
	})

	if s.Online {
		t.Error("Online should be overwritten to false")
	}
	if s.Battery == nil || *s.Battery != 80.0 {
		t.Errorf("Battery = %v, want 80 kept", s.Battery)
	}
	if s.FirmwareVersion == nil || *s.FirmwareVersion != "1.0.0" {
		t.Errorf("FirmwareVersion = %v, want 1.0.0 kept", s.FirmwareVersion)
	}
	if s.Metadata["ip"] != "10.0.0.2" || s.Metadata["stream"] != "rock" {
		t.Errorf("Metadata = %v, want key-wise merge", s.Metadata)
	}
	if s.ReportedAt != "2024-01-01T00:05:00Z" || s.UpdatedAt != s.ReportedAt {
		t.Errorf("ReportedAt = %q UpdatedAt = %q", s.ReportedAt, s.UpdatedAt)
	}
}

func TestDeviceStatusApply_OnlineAbsentKeepsValue(t *testing.T) {
	s := &DeviceStatus{Online: true}
	s.Apply(StatusReport{DeviceID: "d1", OrganizationID: "o1", ReportedAt: "t"})
	if !s.Online {
		t.Error("Online should be kept when the report omits it")
	}
}

func TestPaths(t *testing.T) {
	if got := DevicePath("o1", "d1"); got != "organizations/o1/devices/d1" {
		t.Errorf("DevicePath() = %q", got)
	}
	if got := CommandPath("o1", "c1"); got != "organizations/o1/commands/c1" {
		t.Errorf("CommandPath() = %q", got)
	}
}
