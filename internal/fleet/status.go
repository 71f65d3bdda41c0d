package fleet

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"
)

// DeviceStatus is the last-known state of one device.
//
// Battery and FirmwareVersion stay nil until a report carries them. ReportedAt
// and UpdatedAt hold the device-supplied ISO-8601 timestamp verbatim.
type DeviceStatus struct {
	OrganizationID  string         `json:"organizationId"`
	DeviceID        string         `json:"deviceId"`
	Online          bool           `json:"online"`
	Battery         *float64       `json:"battery"`
	FirmwareVersion *string        `json:"firmwareVersion"`
	ReportedAt      string         `json:"reportedAt"`
	Metadata        map[string]any `json:"metadata"`
	UpdatedAt       string         `json:"updatedAt"`
	CreatedAt       time.Time      `json:"createdAt"`
}

// Path returns the document path of the record.
func (s *DeviceStatus) Path() string {
	return DevicePath(s.OrganizationID, s.DeviceID)
}

// StatusReport is the payload a device publishes on its status topic.
//
// Optional fields are pointers so that an absent field can be told apart
// from a zero value; absent fields leave the stored value untouched.
type StatusReport struct {
	DeviceID        string         `json:"deviceId"`
	OrganizationID  string         `json:"organizationId"`
	Online          *bool          `json:"online,omitempty"`
	Battery         *float64       `json:"battery,omitempty"`
	FirmwareVersion *string        `json:"firmwareVersion,omitempty"`
	ReportedAt      string         `json:"reportedAt"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// ParseStatusReport decodes and validates a status payload.
func ParseStatusReport(payload []byte) (StatusReport, error) {
	var r StatusReport
	if err := json.Unmarshal(payload, &r); err != nil {
		return StatusReport{}, fmt.Errorf("%w: %w", ErrInvalidReport, err)
	}
	if err := r.Validate(); err != nil {
		return StatusReport{}, err
	}
	return r, nil
}

// Validate checks that the addressing fields and the report timestamp are set.
func (r StatusReport) Validate() error {
	switch {
	case r.DeviceID == "":
		return fmt.Errorf("%w: missing deviceId", ErrInvalidReport)
	case r.OrganizationID == "":
		return fmt.Errorf("%w: missing organizationId", ErrInvalidReport)
	case r.ReportedAt == "":
		return fmt.Errorf("%w: missing reportedAt", ErrInvalidReport)
	}
	return nil
}

// Apply merges r into s. Fields absent from the report keep their current
// value and metadata is merged key by key.
func (s *DeviceStatus) Apply(r StatusReport) {
	s.OrganizationID = r.OrganizationID
	s.DeviceID = r.DeviceID
	if r.Online != nil {
		s.Online = *r.Online
	}
	if r.Battery != nil {
		b := *r.Battery
		s.Battery = &b
	}
	if r.FirmwareVersion != nil {
		v := *r.FirmwareVersion
		s.FirmwareVersion = &v
	}
	if s.Metadata == nil {
		s.Metadata = make(map[string]any, len(r.Metadata))
	}
	maps.Copy(s.Metadata, r.Metadata)
	s.ReportedAt = r.ReportedAt
	s.UpdatedAt = r.ReportedAt
}
