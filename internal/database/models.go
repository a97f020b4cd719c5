package database

import (
	"time"
)

// Video represents an uploaded source video
type Video struct {
	ID           string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Title        string    `gorm:"not null" json:"title"`
	Description  string    `json:"description"`
	Filename     string    `gorm:"not null;uniqueIndex" json:"filename"`
	OriginalName string    `json:"original_name"`
	MimeType     string    `json:"mime_type"`
	SizeBytes    int64     `gorm:"not null" json:"size_bytes"`
	Duration     float64   `json:"duration"` // seconds, filled by probe
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// VideoChunk represents one fixed-duration slice of a video. For a given
// video the active chunks tile [0, duration) with dense zero-based indices;
// a batch is committed atomically and deactivated (never hard-deleted) when
// the video is re-chunked or removed.
type VideoChunk struct {
	ID         string   `gorm:"type:varchar(36);primaryKey" json:"id"`
	VideoID    string   `gorm:"type:varchar(36);not null;index:idx_chunks_video" json:"video_id"`
	ChunkIndex int      `gorm:"not null" json:"chunk_index"`
	Filename   string   `gorm:"not null" json:"filename"`
	StartTime  float64  `gorm:"not null" json:"start_time"` // seconds
	EndTime    float64  `gorm:"not null" json:"end_time"`   // seconds
	Duration   float64  `gorm:"not null" json:"duration"`   // EndTime - StartTime
	SizeBytes  int64    `gorm:"not null" json:"size_bytes"` // matches the on-disk file
	FPS        *float64 `json:"fps,omitempty"`
	Width      *int     `json:"width,omitempty"`
	Height     *int     `json:"height,omitempty"`
	IsActive   bool     `gorm:"not null;default:true;index:idx_chunks_video" json:"is_active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
