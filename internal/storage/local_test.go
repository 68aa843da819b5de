package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

var testRef = IntervalRef{
	Start:    time.Date(2020, 1, 1, 0, 5, 0, 0, time.UTC),
	Duration: 5 * time.Minute,
}

func testManifest(data []byte) *Manifest {
	return &Manifest{
		Interval: IntervalInfo{
			Start:    testRef.Start,
			End:      testRef.Start.Add(testRef.Duration),
			NRecords: 3000,
			AcqFreq:  10,
		},
		Sites: map[string]SiteInfo{
			"SF4": {Rule: "current", Placeholder: true, RowsMatched: 2},
		},
		Tables: map[string]TableInfo{
			"fast": {
				File:     testRef.Name() + ".parquet",
				Checksum: "sha256:abc123",
				RowCount: 3000,
				ByteSize: int64(len(data)),
			},
		},
		Producer: ProducerInfo{
			Name:    "fast-flux",
			Version: "test",
		},
		RunID:     "run-1",
		CreatedAt: time.Now(),
	}
}

func TestIntervalRefPaths(t *testing.T) {
	if got, want := testRef.Path("fast/"), "fast/2020/01/01/fast_20200101_0005.parquet"; got != want {
		t.Errorf("Path = %q, want %q", got, want)
	}
	if got, want := testRef.ManifestPath(""), "2020/01/01/fast_20200101_0005_manifest.json"; got != want {
		t.Errorf("ManifestPath = %q, want %q", got, want)
	}
	if got, want := testRef.DirPath("fast/"), "fast/2020/01/01"; got != want {
		t.Errorf("DirPath = %q, want %q", got, want)
	}

	local := IntervalRef{Start: time.Date(2020, 1, 1, 23, 55, 0, 0, time.FixedZone("X", -3600))}
	if got, want := local.Name(), "fast_20200102_0055"; got != want {
		t.Errorf("Name = %q, want %q (names are UTC)", got, want)
	}
}

func TestNormalizePrefix(t *testing.T) {
	cases := map[string]string{
		"":       "",
		"/":      "",
		"fast":   "fast/",
		"fast/":  "fast/",
		"/a/b//": "a/b/",
	}
	for in, want := range cases {
		if got := NormalizePrefix(in); got != want {
			t.Errorf("NormalizePrefix(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLocalStoreAtomicOperations(t *testing.T) {
	tmpDir := t.TempDir()

	store, err := NewLocalStore(tmpDir, "fast")
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}

	ctx := context.Background()
	parquetData := []byte("fake parquet data for testing")
	manifest := testManifest(parquetData)

	tempParquet, err := store.WriteParquetTemp(ctx, testRef, parquetData)
	if err != nil {
		t.Fatalf("WriteParquetTemp failed: %v", err)
	}
	if _, err := os.Stat(tempParquet); os.IsNotExist(err) {
		t.Error("temp parquet file should exist")
	}

	tempManifest, err := store.WriteManifestTemp(ctx, testRef, manifest)
	if err != nil {
		t.Fatalf("WriteManifestTemp failed: %v", err)
	}

	// Final paths shouldn't exist yet
	finalParquet := filepath.Join(tmpDir, testRef.Path("fast/"))
	finalManifest := filepath.Join(tmpDir, testRef.ManifestPath("fast/"))

	if exists, _ := store.Exists(ctx, testRef); exists {
		t.Error("interval should not exist before Finalize")
	}

	if err := store.Finalize(ctx, testRef, []string{tempParquet, tempManifest}); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	if exists, err := store.Exists(ctx, testRef); err != nil || !exists {
		t.Errorf("Exists = %v, %v after Finalize", exists, err)
	}
	if _, err := os.Stat(finalManifest); os.IsNotExist(err) {
		t.Error("final manifest should exist after Finalize")
	}
	if _, err := os.Stat(tempParquet); !os.IsNotExist(err) {
		t.Error("temp parquet should be removed after Finalize")
	}

	data, err := os.ReadFile(finalParquet)
	if err != nil {
		t.Fatalf("failed to read final parquet: %v", err)
	}
	if string(data) != string(parquetData) {
		t.Error("parquet data mismatch")
	}

	raw, err := store.ReadObject(ctx, testRef.ManifestPath(store.Prefix()))
	if err != nil {
		t.Fatalf("ReadObject failed: %v", err)
	}
	var got Manifest
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("manifest is not valid JSON: %v", err)
	}
	if got.RunID != "run-1" || got.Interval.NRecords != 3000 || !got.Sites["SF4"].Placeholder {
		t.Errorf("manifest round trip mismatch: %+v", got)
	}
}

func TestLocalStoreFinalizeKeyCount(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "")
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}
	if err := store.Finalize(context.Background(), testRef, nil); err == nil {
		t.Error("Finalize with no temp keys should fail")
	}
}

func TestLocalStoreAbort(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "fast/")
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}

	ctx := context.Background()
	tempParquet, _ := store.WriteParquetTemp(ctx, testRef, []byte("test data"))
	tempManifest, _ := store.WriteManifestTemp(ctx, testRef, testManifest(nil))

	if _, err := os.Stat(tempParquet); os.IsNotExist(err) {
		t.Error("temp parquet should exist before Abort")
	}

	if err := store.Abort(ctx, []string{tempParquet, tempManifest}); err != nil {
		t.Fatalf("Abort failed: %v", err)
	}

	if _, err := os.Stat(tempParquet); !os.IsNotExist(err) {
		t.Error("temp parquet should be removed after Abort")
	}
	if _, err := os.Stat(tempManifest); !os.IsNotExist(err) {
		t.Error("temp manifest should be removed after Abort")
	}
}

func TestLocalStoreHeadAndList(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "fast/")
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}

	ctx := context.Background()
	testData := []byte("test parquet data for head test")
	if err := store.WriteParquet(ctx, testRef, testData); err != nil {
		t.Fatalf("WriteParquet failed: %v", err)
	}
	if err := store.WriteObject(ctx, "summary.parquet", []byte("s")); err != nil {
		t.Fatalf("WriteObject failed: %v", err)
	}
	// A pending temp file must not show up in listings.
	if _, err := store.WriteParquetTemp(ctx, testRef, testData); err != nil {
		t.Fatalf("WriteParquetTemp failed: %v", err)
	}

	key := testRef.Path("fast/")
	info, err := store.Head(ctx, key)
	if err != nil {
		t.Fatalf("Head failed: %v", err)
	}
	if info.Size != int64(len(testData)) {
		t.Errorf("Head size = %d, want %d", info.Size, len(testData))
	}

	if _, err := store.Head(ctx, "fast/missing.parquet"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Head on missing key = %v, want ErrNotFound", err)
	}

	keys, err := store.List(ctx, "fast/2020/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(keys) != 1 || keys[0] != key {
		t.Errorf("List = %v, want [%s]", keys, key)
	}

	all, err := store.List(ctx, "fast/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("List(fast/) = %v, want 2 keys", all)
	}
}

func TestLocalStoreImplementsAtomicStore(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "fast/")
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}

	var _ AtomicStore = store

	if AsAtomic(store) == nil {
		t.Error("AsAtomic should return non-nil for LocalStore")
	}
}

func TestNewStoreBackends(t *testing.T) {
	ctx := context.Background()

	if _, err := NewStore(ctx, StorageConfig{Backend: "local", LocalDir: t.TempDir()}); err != nil {
		t.Errorf("local backend: %v", err)
	}
	if _, err := NewStore(ctx, StorageConfig{Backend: "local"}); err == nil {
		t.Error("local backend without dir should fail")
	}
	if _, err := NewStore(ctx, StorageConfig{Backend: "s3"}); err == nil {
		t.Error("s3 backend without bucket should fail")
	}
	if _, err := NewStore(ctx, StorageConfig{Backend: "ftp"}); !errors.Is(err, ErrUnknownBackend) {
		t.Errorf("unknown backend error = %v", err)
	}

	s, err := NewStore(ctx, StorageConfig{Backend: "bucket", BucketURL: "mem://", Prefix: "fast"})
	if err != nil {
		t.Fatalf("bucket backend: %v", err)
	}
	defer s.Close()
	if s.Prefix() != "fast/" {
		t.Errorf("Prefix = %q", s.Prefix())
	}
}
