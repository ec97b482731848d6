package models

import (
	"time"

	"github.com/google/uuid"
)

// Attachment is the metadata record for a clinical file. SizeBytes is
// reserved against the subscription's storage quota when the row is
// created and released when it is deleted.
type Attachment struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID    uuid.UUID `gorm:"type:uuid;not null;index" json:"-"`
	PatientID   uuid.UUID `gorm:"type:uuid;not null;index" json:"patient_id"`
	FileName    string    `gorm:"size:255;not null" json:"file_name"`
	ContentType string    `gorm:"size:100" json:"content_type"`
	SizeBytes   int64     `gorm:"not null" json:"size_bytes"`
	UploadedBy  uuid.UUID `gorm:"type:uuid" json:"uploaded_by"`
	CreatedAt   time.Time `json:"created_at"`
}
