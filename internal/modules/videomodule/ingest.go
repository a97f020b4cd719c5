package videomodule

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/mantonx/chunkstream/internal/database"
)

// videoExtensions lists container formats the ingest watcher accepts.
var videoExtensions = map[string]bool{
	".mp4":  true,
	".m4v":  true,
	".webm": true,
	".mov":  true,
	".mkv":  true,
	".avi":  true,
}

// IngestWatcher watches the incoming directory and turns dropped files into
// chunked videos without an upload request.
type IngestWatcher struct {
	db        *gorm.DB
	chunker   *Chunker
	log       hclog.Logger
	dir       string
	videosDir string
	settle    time.Duration

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewIngestWatcher creates a watcher over dir. Call Start to begin.
func NewIngestWatcher(db *gorm.DB, chunker *Chunker, log hclog.Logger, dir, videosDir string, settle time.Duration) *IngestWatcher {
	if settle <= 0 {
		settle = 2 * time.Second
	}
	return &IngestWatcher{
		db:        db,
		chunker:   chunker,
		log:       log,
		dir:       dir,
		videosDir: videosDir,
		settle:    settle,
		done:      make(chan struct{}),
	}
}

// Start begins watching the incoming directory.
func (iw *IngestWatcher) Start() error {
	if err := os.MkdirAll(iw.dir, 0o755); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(iw.dir); err != nil {
		watcher.Close()
		return err
	}
	iw.watcher = watcher

	go iw.loop()
	iw.log.Info("watching incoming directory", "dir", iw.dir)
	return nil
}

// Stop shuts the watcher down. Safe to call when Start never ran.
func (iw *IngestWatcher) Stop() {
	if iw.watcher == nil {
		return
	}
	close(iw.done)
	iw.watcher.Close()
}

func (iw *IngestWatcher) loop() {
	for {
		select {
		case <-iw.done:
			return
		case event, ok := <-iw.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !videoExtensions[strings.ToLower(filepath.Ext(event.Name))] {
				continue
			}
			go iw.ingest(event.Name)
		case err, ok := <-iw.watcher.Errors:
			if !ok {
				return
			}
			iw.log.Error("ingest watcher error", "error", err)
		}
	}
}

// ingest waits for the file to stop growing, registers it and kicks off
// background chunking. Duplicate events for the same path resolve through
// the rename: whoever moves the file first wins.
func (iw *IngestWatcher) ingest(path string) {
	if !iw.waitSettled(path) {
		return
	}

	originalName := filepath.Base(path)
	id := uuid.New().String()
	filename := id + strings.ToLower(filepath.Ext(path))
	dst := filepath.Join(iw.videosDir, filename)

	if err := os.MkdirAll(iw.videosDir, 0o755); err != nil {
		iw.log.Error("failed to create videos dir", "error", err)
		return
	}
	if err := os.Rename(path, dst); err != nil {
		if os.IsNotExist(err) {
			return
		}
		iw.log.Error("failed to move ingested file", "path", path, "error", err)
		return
	}

	stat, err := os.Stat(dst)
	if err != nil {
		iw.log.Error("failed to stat ingested file", "path", dst, "error", err)
		return
	}

	video := database.Video{
		ID:           id,
		Title:        strings.TrimSuffix(originalName, filepath.Ext(originalName)),
		Filename:     filename,
		OriginalName: originalName,
		MimeType:     mimeTypeForExt(filepath.Ext(filename)),
		SizeBytes:    stat.Size(),
	}
	if err := iw.db.Create(&video).Error; err != nil {
		iw.log.Error("failed to create video record", "path", dst, "error", err)
		return
	}

	iw.log.Info("ingested video", "video_id", video.ID, "original_name", originalName)

	if err := iw.chunker.ChunkVideoAsync(&video); err != nil {
		iw.log.Error("failed to start chunking for ingested video",
			"video_id", video.ID, "error", err)
	}
}

// waitSettled polls the file size until it holds steady for one settle
// interval, so half-copied files are not picked up.
func (iw *IngestWatcher) waitSettled(path string) bool {
	var lastSize int64 = -1
	for {
		select {
		case <-iw.done:
			return false
		case <-time.After(iw.settle):
		}

		stat, err := os.Stat(path)
		if err != nil {
			return false
		}
		if stat.Size() == lastSize {
			return true
		}
		lastSize = stat.Size()
	}
}

func mimeTypeForExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".mp4", ".m4v":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	case ".mov":
		return "video/quicktime"
	case ".mkv":
		return "video/x-matroska"
	case ".avi":
		return "video/x-msvideo"
	default:
		return "application/octet-stream"
	}
}
