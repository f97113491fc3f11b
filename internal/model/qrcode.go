package model

import (
	"time"
)

// Device classes stored in ScanEvent.DeviceType
const (
	DeviceMobile  = "Mobile"
	DeviceTablet  = "Tablet"
	DeviceDesktop = "Desktop"
)

// Unknown is stored for any fingerprint or location field that could not be derived
const Unknown = "Unknown"

// QRCode represents one user-defined short link encoded in a QR code
type QRCode struct {
	ID             string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	UserID         string    `gorm:"index;type:varchar(64)" json:"user_id"`
	Name           string    `gorm:"type:varchar(255);not null" json:"name"`
	DestinationURL string    `gorm:"type:varchar(2048);not null" json:"destination_url"`
	FolderID       *string   `gorm:"index;type:varchar(64)" json:"folder_id,omitempty"`
	UsageCount     uint64    `gorm:"not null;default:0" json:"usage_count"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName specifies the table name for QRCode
func (QRCode) TableName() string {
	return "qr_codes"
}

// ScanEvent is one immutable record of a QR code resolution
type ScanEvent struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	QRID       string    `gorm:"column:qr_id;index;type:varchar(64);not null" json:"qr_id"`
	IP         *string   `gorm:"type:varchar(45)" json:"ip,omitempty"`
	UserAgent  string    `gorm:"type:text" json:"user_agent"`
	Browser    string    `gorm:"type:varchar(32)" json:"browser"`
	OS         string    `gorm:"column:os;type:varchar(32)" json:"os"`
	DeviceType string    `gorm:"type:varchar(16)" json:"device_type"`
	Country    string    `gorm:"type:varchar(100)" json:"country"`
	City       string    `gorm:"type:varchar(100)" json:"city"`
	Referrer   *string   `gorm:"type:text" json:"referrer,omitempty"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`

	// QRCode ties every scan to an existing code; deleting the code drops its scans
	QRCode *QRCode `gorm:"foreignKey:QRID;references:ID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName specifies the table name for ScanEvent
func (ScanEvent) TableName() string {
	return "qr_scans"
}

// ScanStats aggregates the scans of one QR code
type ScanStats struct {
	QRID       string           `json:"qr_id"`
	UsageCount uint64           `json:"usage_count"`
	TotalScans int64            `json:"total_scans"`
	Devices    map[string]int64 `json:"devices"`
	Browsers   map[string]int64 `json:"browsers"`
	OS         map[string]int64 `json:"os"`
	Countries  map[string]int64 `json:"countries"`
}
