package export

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"testing"
	"time"

	"github.com/pkg/errors"

	"screenreel/internal/session"
	"screenreel/internal/store"
)

func seedSession(t *testing.T, st store.Store, id string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()

	ended := now.Add(time.Minute)
	sess := &session.Session{
		ID:        id,
		Status:    session.StatusEnded,
		StartedAt: &now,
		EndedAt:   &ended,
		Reason:    "user",
		CreatedAt: now,
		UpdatedAt: ended,
	}
	if err := st.PutSession(ctx, sess); err != nil {
		t.Fatalf("PutSession() error: %v", err)
	}

	ev := &session.ActionEvent{ID: "act-1", SessionID: id, Kind: "click", WallTime: now, CreatedAt: now}
	if err := st.PutAction(ctx, ev); err != nil {
		t.Fatalf("PutAction() error: %v", err)
	}

	for _, phase := range []store.Phase{store.PhaseBefore, store.PhaseAfter} {
		rec := &store.ScreenshotRecord{
			ID:         store.ScreenshotID("act-1", phase),
			SessionID:  id,
			ActionID:   "act-1",
			Phase:      phase,
			MimeType:   "image/jpeg",
			Payload:    []byte("jpeg-" + string(phase)),
			CapturedAt: now,
			CreatedAt:  now,
		}
		if err := st.PutScreenshot(ctx, rec); err != nil {
			t.Fatalf("PutScreenshot(%s) error: %v", phase, err)
		}
	}

	for i, tc := range []int64{0, 1000} {
		c := &store.ChunkRecord{
			ID:             id + "-c" + string(rune('0'+i)),
			SessionID:      id,
			TimecodeMillis: tc,
			Encoding:       "video/webm;codecs=vp9",
			Payload:        []byte{byte(i), byte(i)},
			CapturedAt:     now.Add(time.Duration(i) * time.Second),
			CreatedAt:      now.Add(time.Duration(i) * time.Second),
		}
		if err := st.PutChunk(ctx, c); err != nil {
			t.Fatalf("PutChunk() error: %v", err)
		}
	}
}

func readArchive(t *testing.T, data []byte) (Manifest, map[string][]byte) {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}

	files := make(map[string][]byte)
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open %s: %v", f.Name, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("read %s: %v", f.Name, err)
		}
		files[f.Name] = content
	}

	raw, ok := files["manifest.json"]
	if !ok {
		t.Fatal("archive has no manifest.json")
	}
	var manifest Manifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		t.Fatalf("decode manifest: %v", err)
	}
	return manifest, files
}

func TestBuildBundlesEveryArtifact(t *testing.T) {
	st := store.NewMemoryStore(store.DefaultLimits(), nil)
	seedSession(t, st, "s1")
	e := NewExporter(st, t.TempDir(), nil)

	data, err := e.Build(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	manifest, files := readArchive(t, data)

	if manifest.SessionID != "s1" || manifest.Session.Status != session.StatusEnded {
		t.Errorf("manifest session = %s/%s, want s1/%s", manifest.SessionID, manifest.Session.Status, session.StatusEnded)
	}
	want := map[string]int{"actions": 1, "screenshots": 2, "videoChunks": 2}
	for k, n := range want {
		if manifest.Counts[k] != n {
			t.Errorf("counts[%s] = %d, want %d", k, manifest.Counts[k], n)
		}
	}

	// One file per binary artifact, named by kind and payload refs resolving
	// inside the archive.
	for _, shot := range manifest.Screenshots {
		if len(shot.Payload) != 0 {
			t.Errorf("manifest screenshot %s still embeds its payload", shot.ID)
		}
		if _, ok := files[shot.PayloadRef]; !ok {
			t.Errorf("screenshot ref %s missing from archive", shot.PayloadRef)
		}
	}
	for _, chunk := range manifest.Chunks {
		if _, ok := files[chunk.PayloadRef]; !ok {
			t.Errorf("chunk ref %s missing from archive", chunk.PayloadRef)
		}
	}
	if _, ok := files["screenshots/act-1-before.jpg"]; !ok {
		t.Error("screenshot artifact not under screenshots/ with jpg extension")
	}
	if _, ok := files["video/s1-c0.webm"]; !ok {
		t.Error("chunk artifact not under video/ with webm extension")
	}
}

func TestBuildSkipsArtifactsWithMissingPayload(t *testing.T) {
	st := store.NewMemoryStore(store.DefaultLimits(), nil)
	seedSession(t, st, "s1")
	ctx := context.Background()

	// A record whose payload was lost must not sink the whole export.
	bad := &store.ScreenshotRecord{
		ID:        "act-2-before",
		SessionID: "s1",
		ActionID:  "act-2",
		Phase:     store.PhaseBefore,
		MimeType:  "image/jpeg",
		CreatedAt: time.Now(),
	}
	if err := st.PutScreenshot(ctx, bad); err != nil {
		t.Fatalf("PutScreenshot() error: %v", err)
	}

	e := NewExporter(st, t.TempDir(), nil)
	data, err := e.Build(ctx, "s1")
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	manifest, files := readArchive(t, data)

	if manifest.Counts["screenshots"] != 2 {
		t.Errorf("screenshot count = %d, want 2 (empty payload skipped)", manifest.Counts["screenshots"])
	}
	for name := range files {
		if name == "screenshots/act-2-before.jpg" {
			t.Error("empty-payload artifact landed in the archive")
		}
	}
}

func TestBuildDoesNotMutateStoredRecords(t *testing.T) {
	st := store.NewMemoryStore(store.DefaultLimits(), nil)
	seedSession(t, st, "s1")
	ctx := context.Background()

	e := NewExporter(st, t.TempDir(), nil)
	if _, err := e.Build(ctx, "s1"); err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	shots, err := st.ScreenshotsBySession(ctx, "s1")
	if err != nil {
		t.Fatalf("ScreenshotsBySession() error: %v", err)
	}
	for _, rec := range shots {
		if len(rec.Payload) == 0 || rec.PayloadRef != "" {
			t.Errorf("stored screenshot %s mutated by export: payload=%d ref=%q", rec.ID, len(rec.Payload), rec.PayloadRef)
		}
	}
	chunks, err := st.ChunksBySession(ctx, "s1")
	if err != nil {
		t.Fatalf("ChunksBySession() error: %v", err)
	}
	for _, rec := range chunks {
		if len(rec.Payload) == 0 || rec.PayloadRef != "" {
			t.Errorf("stored chunk %s mutated by export: payload=%d ref=%q", rec.ID, len(rec.Payload), rec.PayloadRef)
		}
	}
}

func TestBuildUnknownSession(t *testing.T) {
	st := store.NewMemoryStore(store.DefaultLimits(), nil)
	e := NewExporter(st, t.TempDir(), nil)

	_, err := e.Build(context.Background(), "missing")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Build() error = %v, want ErrSessionNotFound", err)
	}
}

func TestExportWritesArchiveAndEnqueuesUpload(t *testing.T) {
	st := store.NewMemoryStore(store.DefaultLimits(), nil)
	seedSession(t, st, "s1")
	dir := t.TempDir()

	var outcomes []bool
	e := NewExporter(st, dir, func(ok bool) { outcomes = append(outcomes, ok) })
	ctx := context.Background()

	if err := e.Export(ctx, "s1"); err != nil {
		t.Fatalf("Export() error: %v", err)
	}

	path := e.ArchivePath("s1")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	manifest, _ := readArchive(t, data)
	if manifest.SessionID != "s1" {
		t.Errorf("archived manifest session = %s, want s1", manifest.SessionID)
	}

	jobs, err := st.UploadJobsByStatus(ctx, store.UploadJobPending)
	if err != nil {
		t.Fatalf("UploadJobsByStatus() error: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("pending upload jobs = %d, want 1", len(jobs))
	}
	if len(jobs[0].ArtifactRefs) != 1 || jobs[0].ArtifactRefs[0] != path {
		t.Errorf("upload job refs = %v, want [%s]", jobs[0].ArtifactRefs, path)
	}

	if len(outcomes) != 1 || !outcomes[0] {
		t.Errorf("export outcomes = %v, want [true]", outcomes)
	}
}

func TestExportUnknownSessionReportsFailure(t *testing.T) {
	st := store.NewMemoryStore(store.DefaultLimits(), nil)
	var outcomes []bool
	e := NewExporter(st, t.TempDir(), func(ok bool) { outcomes = append(outcomes, ok) })

	if err := e.Export(context.Background(), "missing"); err == nil {
		t.Fatal("Export() of unknown session succeeded")
	}
	if len(outcomes) != 1 || outcomes[0] {
		t.Errorf("export outcomes = %v, want [false]", outcomes)
	}
}

func TestExtensionFor(t *testing.T) {
	tests := []struct {
		encoding string
		want     string
	}{
		{"video/webm;codecs=vp9", "webm"},
		{"video/mp4", "mp4"},
		{"image/jpeg", "jpg"},
		{"image/png", "png"},
		{"application/octet-stream", "octet-stream"},
		{"garbage", "bin"},
	}
	for _, tt := range tests {
		if got := extensionFor(tt.encoding); got != tt.want {
			t.Errorf("extensionFor(%s) = %s, want %s", tt.encoding, got, tt.want)
		}
	}
}
