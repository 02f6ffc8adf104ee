// Package export bundles a finished session's records into one compressed
// archive: a manifest plus every binary artifact under kind-named paths.
package export

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"screenreel/internal/session"
	"screenreel/internal/store"
)

// ErrSessionNotFound is returned when exporting an unknown session id.
var ErrSessionNotFound = errors.New("export: session not found")

// Uploader is the contract for the upload coordinator collaborator. This
// core enqueues UploadJob records; it never performs network uploads.
type Uploader interface {
	Enqueue(ctx context.Context, job *store.UploadJobRecord) error
}

// Manifest is the archive's index: export metadata plus the full record
// metadata for everything bundled. Binary payloads live next to it in the
// archive; each record's payload ref points at its path.
type Manifest struct {
	ExportedAt  time.Time                `json:"exportedAt"`
	SessionID   string                   `json:"sessionId"`
	Counts      map[string]int           `json:"counts"`
	Session     session.Session          `json:"session"`
	Actions     []session.ActionEvent    `json:"actions"`
	Screenshots []store.ScreenshotRecord `json:"screenshots"`
	Chunks      []store.ChunkRecord      `json:"videoChunks"`
}

// Exporter reads a session's records from the store and writes one zip
// archive per export.
type Exporter struct {
	store     store.Store
	outputDir string
	now       func() time.Time
	onExport  func(ok bool)
}

// NewExporter writes archives into outputDir. onExport, if non-nil,
// observes each export outcome (metrics).
func NewExporter(st store.Store, outputDir string, onExport func(ok bool)) *Exporter {
	return &Exporter{store: st, outputDir: outputDir, now: time.Now, onExport: onExport}
}

// ArchivePath returns where a session's archive lands.
func (e *Exporter) ArchivePath(sessionID string) string {
	return filepath.Join(e.outputDir, sessionID+".zip")
}

// Export implements the recorder host's Exporter contract.
func (e *Exporter) Export(ctx context.Context, sessionID string) error {
	data, err := e.Build(ctx, sessionID)
	if err != nil {
		if e.onExport != nil {
			e.onExport(false)
		}
		return err
	}

	if err := os.MkdirAll(e.outputDir, 0o755); err != nil {
		if e.onExport != nil {
			e.onExport(false)
		}
		return errors.Wrap(err, "create export directory")
	}
	path := e.ArchivePath(sessionID)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		if e.onExport != nil {
			e.onExport(false)
		}
		return errors.Wrapf(err, "write archive %s", path)
	}

	// Forward-compat hand-off: record a pending upload job for the archive.
	job := &store.UploadJobRecord{
		ID:           uuid.NewString(),
		ArtifactRefs: []string{path},
		Status:       store.UploadJobPending,
		CreatedAt:    e.now(),
	}
	if err := e.store.PutUploadJob(ctx, job); err != nil {
		log.Printf("Exporter: enqueue upload job for session %s failed: %v", sessionID, err)
	}

	if e.onExport != nil {
		e.onExport(true)
	}
	log.Printf("Exporter: session %s archived to %s (%d bytes)", sessionID, path, len(data))
	return nil
}

// Build assembles the archive bytes for a session. The persisted records
// are never mutated; payload refs are rewritten only on the in-memory
// copies bundled into the manifest.
func (e *Exporter) Build(ctx context.Context, sessionID string) ([]byte, error) {
	sess, err := e.store.GetSession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errors.Wrap(ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "load session")
	}

	actions, err := e.store.ActionsBySession(ctx, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "load actions")
	}
	screenshots, err := e.store.ScreenshotsBySession(ctx, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "load screenshots")
	}
	chunks, err := e.store.ChunksBySession(ctx, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "load chunks")
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	manifest := Manifest{
		ExportedAt: e.now().UTC(),
		SessionID:  sessionID,
		Session:    sess.Snapshot(),
	}

	for _, shot := range screenshots {
		if len(shot.Payload) == 0 {
			log.Printf("Exporter: skipping screenshot %s, payload missing", shot.ID)
			continue
		}
		path := fmt.Sprintf("screenshots/%s.%s", shot.ID, extensionFor(shot.MimeType))
		if err := writeArtifact(zw, path, shot.Payload); err != nil {
			log.Printf("Exporter: skipping screenshot %s: %v", shot.ID, err)
			continue
		}
		out := shot
		out.Payload = nil
		out.PayloadRef = path
		manifest.Screenshots = append(manifest.Screenshots, out)
	}

	for _, chunk := range chunks {
		if len(chunk.Payload) == 0 {
			log.Printf("Exporter: skipping chunk %s, payload missing", chunk.ID)
			continue
		}
		path := fmt.Sprintf("video/%s.%s", chunk.ID, extensionFor(chunk.Encoding))
		if err := writeArtifact(zw, path, chunk.Payload); err != nil {
			log.Printf("Exporter: skipping chunk %s: %v", chunk.ID, err)
			continue
		}
		out := chunk
		out.Payload = nil
		out.PayloadRef = path
		manifest.Chunks = append(manifest.Chunks, out)
	}

	manifest.Actions = actions
	manifest.Counts = map[string]int{
		"actions":     len(manifest.Actions),
		"screenshots": len(manifest.Screenshots),
		"videoChunks": len(manifest.Chunks),
	}

	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "marshal manifest")
	}
	if err := writeArtifact(zw, "manifest.json", manifestJSON); err != nil {
		return nil, errors.Wrap(err, "write manifest")
	}

	if err := zw.Close(); err != nil {
		return nil, errors.Wrap(err, "finalize archive")
	}
	return buf.Bytes(), nil
}

func writeArtifact(zw *zip.Writer, path string, data []byte) error {
	w, err := zw.Create(path)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// extensionFor infers a file extension from an encoding or mime type like
// "video/webm;codecs=vp9" or "image/jpeg".
func extensionFor(encoding string) string {
	mime, _, _ := strings.Cut(encoding, ";")
	switch strings.TrimSpace(mime) {
	case "video/webm":
		return "webm"
	case "video/mp4":
		return "mp4"
	case "image/jpeg":
		return "jpg"
	case "image/png":
		return "png"
	}
	if _, sub, ok := strings.Cut(mime, "/"); ok && sub != "" {
		return sub
	}
	return "bin"
}
