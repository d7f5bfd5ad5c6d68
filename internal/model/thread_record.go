package model

import (
	"time"

	"coroner-assist/internal/store"
)

// ThreadRecord is the persisted snapshot of one thread. Thread ids are only
// unique per owner, so the key is (user_id, id).
type ThreadRecord struct {
	ID            string          `gorm:"column:id;primaryKey;size:64" json:"id"`
	UserID        string          `gorm:"primaryKey;size:128" json:"user_id"`
	DoctorName    string          `gorm:"size:255" json:"doctor_name"`
	Content       string          `gorm:"type:longtext" json:"content"`
	Messages      []store.Message `gorm:"serializer:json;type:longtext" json:"messages"`
	UploadedFiles []string        `gorm:"serializer:json;type:longtext" json:"uploaded_files"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (ThreadRecord) TableName() string {
	return "threads"
}

func NewThreadRecord(t store.Thread) ThreadRecord {
	c := t.Clone()
	return ThreadRecord{
		ID:            c.ID,
		UserID:        c.UserID,
		DoctorName:    c.DoctorName,
		Content:       c.Content,
		Messages:      c.Messages,
		UploadedFiles: c.UploadedFiles,
	}
}

func (r ThreadRecord) Thread() store.Thread {
	return store.Thread{
		ID:            r.ID,
		UserID:        r.UserID,
		DoctorName:    r.DoctorName,
		Content:       r.Content,
		Messages:      r.Messages,
		UploadedFiles: r.UploadedFiles,
	}.Clone()
}
