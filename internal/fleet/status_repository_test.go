package fleet

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMergeStatus_CreateAndReadBack(t *testing.T) {
	repo := NewSQLiteStatusRepository(openTestDB(t))
	ctx := context.Background()

	report := StatusReport{
		DeviceID:        "d1",
		OrganizationID:  "o1",
		Online:          ptr(true),
		Battery:         ptr(64.5),
		FirmwareVersion: ptr("1.0.0"),
		ReportedAt:      "2024-01-01T00:00:00Z",
		Metadata:        map[string]any{"ip": "10.0.0.2"},
	}

	merged, err := repo.MergeStatus(ctx, report)
	if err != nil {
		t.Fatalf("MergeStatus() error = %v", err)
	}
	if merged.Path() != "organizations/o1/devices/d1" {
		t.Errorf("Path() = %q", merged.Path())
	}

	got, err := repo.GetStatus(ctx, "o1", "d1")
	if err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}

	if got.DeviceID != "d1" || got.OrganizationID != "o1" {
		t.Errorf("addressing = %s/%s", got.OrganizationID, got.DeviceID)
	}
	if !got.Online {
		t.Error("Online = false, want true")
	}
	if got.Battery == nil || *got.Battery != 64.5 {
		t.Errorf("Battery = %v, want 64.5", got.Battery)
	}
	if got.FirmwareVersion == nil || *got.FirmwareVersion != "1.0.0" {
		t.Errorf("FirmwareVersion = %v, want 1.0.0", got.FirmwareVersion)
	}
	if got.ReportedAt != "2024-01-01T00:00:00Z" {
		t.Errorf("ReportedAt = %q", got.ReportedAt)
	}
	if got.UpdatedAt != "2024-01-01T00:00:00Z" {
		t.Errorf("UpdatedAt = %q, want reportedAt", got.UpdatedAt)
	}
	if got.Metadata["ip"] != "10.0.0.2" {
		t.Errorf("Metadata = %v", got.Metadata)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}
}

func TestMergeStatus_PartialUpdateKeepsFields(t *testing.T) {
	repo := NewSQLiteStatusRepository(openTestDB(t))
	ctx := context.Background()

	if _, err := repo.MergeStatus(ctx, StatusReport{
		DeviceID:        "d1",
		OrganizationID:  "o1",
		Online:          ptr(true),
		Battery:         ptr(90.0),
		FirmwareVersion: ptr("1.0.0"),
		ReportedAt:      "2024-01-01T00:00:00Z",
		Metadata:        map[string]any{"ip": "10.0.0.2", "volume": float64(40)},
	}); err != nil {
		t.Fatalf("first MergeStatus() error = %v", err)
	}

	first, err := repo.GetStatus(ctx, "o1", "d1")
	if err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}

	if _, err := repo.MergeStatus(ctx, StatusReport{
		DeviceID:       "d1",
		OrganizationID: "o1",
		ReportedAt:     "2024-01-01T00:00:15Z",
		Metadata:       map[string]any{"volume": float64(55)},
	}); err != nil {
		t.Fatalf("second MergeStatus() error = %v", err)
	}

	got, err := repo.GetStatus(ctx, "o1", "d1")
	if err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}

	if !got.Online {
		t.Error("Online erased by partial update")
	}
	if got.Battery == nil || *got.Battery != 90.0 {
		t.Errorf("Battery = %v, want 90 kept", got.Battery)
	}
	if got.FirmwareVersion == nil || *got.FirmwareVersion != "1.0.0" {
		t.Errorf("FirmwareVersion = %v, want 1.0.0 kept", got.FirmwareVersion)
	}
	if got.Metadata["ip"] != "10.0.0.2" {
		t.Errorf("Metadata ip = %v, want kept", got.Metadata["ip"])
	}
	if got.Metadata["volume"] != float64(55) {
		t.Errorf("Metadata volume = %v, want 55", got.Metadata["volume"])
	}
	if got.ReportedAt != "2024-01-01T00:00:15Z" || got.UpdatedAt != "2024-01-01T00:00:15Z" {
		t.Errorf("ReportedAt = %q UpdatedAt = %q", got.ReportedAt, got.UpdatedAt)
	}
	if !got.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("CreatedAt changed from %v to %v", first.CreatedAt, got.CreatedAt)
	}
}

func TestMergeStatus_InvalidReportNoWrite(t *testing.T) {
	repo := NewSQLiteStatusRepository(openTestDB(t))
	ctx := context.Background()

	_, err := repo.MergeStatus(ctx, StatusReport{DeviceID: "d1", OrganizationID: "o1", Online: ptr(true)})
	if !errors.Is(err, ErrInvalidReport) {
		t.Fatalf("MergeStatus() error = %v, want ErrInvalidReport", err)
	}

	if _, err := repo.GetStatus(ctx, "o1", "d1"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("GetStatus() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestMergeStatus_CreatedAtUsesClock(t *testing.T) {
	repo := NewSQLiteStatusRepository(openTestDB(t))
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	repo.now = fixedClock(start)

	got, err := repo.MergeStatus(context.Background(), StatusReport{
		DeviceID: "d1", OrganizationID: "o1", ReportedAt: "t",
	})
	if err != nil {
		t.Fatalf("MergeStatus() error = %v", err)
	}
	if !got.CreatedAt.Equal(start) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, start)
	}
}

func TestGetStatus_NotFound(t *testing.T) {
	repo := NewSQLiteStatusRepository(openTestDB(t))

	_, err := repo.GetStatus(context.Background(), "o1", "missing")
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("GetStatus() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestListStatuses_ScopedToOrganization(t *testing.T) {
	repo := NewSQLiteStatusRepository(openTestDB(t))
	ctx := context.Background()

	for _, r := range []StatusReport{
		{DeviceID: "d2", OrganizationID: "o1", ReportedAt: "t"},
		{DeviceID: "d1", OrganizationID: "o1", ReportedAt: "t"},
		{DeviceID: "d1", OrganizationID: "o2", ReportedAt: "t"},
	} {
		if _, err := repo.MergeStatus(ctx, r); err != nil {
			t.Fatalf("MergeStatus() error = %v", err)
		}
	}

	got, err := repo.ListStatuses(ctx, "o1")
	if err != nil {
		t.Fatalf("ListStatuses() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].DeviceID != "d1" || got[1].DeviceID != "d2" {
		t.Errorf("order = %s, %s; want d1, d2", got[0].DeviceID, got[1].DeviceID)
	}

	empty, err := repo.ListStatuses(ctx, "nobody")
	if err != nil {
		t.Fatalf("ListStatuses() error = %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Errorf("ListStatuses() = %v, want empty non-nil slice", empty)
	}
}
