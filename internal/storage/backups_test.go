// FabricBRS - Partition Backup/Restore Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fabricbrs

package storage

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

const (
	testPartition = "6f8b7a1e-2c4d-4e5f-8a9b-0c1d2e3f4a5b"
	fullMetadata  = `{"BackupId":"a1","ParentBackupId":"00000000-0000-0000-0000-000000000000","BackupChainId":"c1"}`
	incrMetadata  = `{"BackupId":"a2","ParentBackupId":"a1","BackupChainId":"c1"}`
)

func TestPartitionDir(t *testing.T) {
	tests := []struct {
		service string
		want    string
	}{
		{"fabric:/App/Svc", "App/Svc/" + testPartition},
		{"fabric:/App/Group/Svc", "App/Group$Svc/" + testPartition},
	}
	for _, tt := range tests {
		if got := PartitionDir(tt.service, testPartition); got != tt.want {
			t.Errorf("PartitionDir(%q) = %q, want %q", tt.service, got, tt.want)
		}
	}
}

func writeFile(t *testing.T, root, name, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestFileStoreRecoveryPoints(t *testing.T) {
	root := t.TempDir()
	dir := PartitionDir("fabric:/App/Svc", testPartition)

	writeFile(t, root, dir+"/2026-01-01 10.00.00.bkmetadata", fullMetadata)
	writeFile(t, root, dir+"/2026-01-01 10.00.00.zip", "zip")
	writeFile(t, root, dir+"/2026-01-02 10.00.00.bkmetadata", incrMetadata)
	writeFile(t, root, dir+"/2026-01-02 10.00.00/data/0.log", "log")
	writeFile(t, root, dir+"/2026-01-02 10.00.00/data/1.log", "log")
	writeFile(t, root, dir+"/2026-01-03 10.00.00.bkmetadata", "not json")
	writeFile(t, root, dir+"/notes.txt", "stray")

	bs, err := NewDestinationChecker().Open(&Descriptor{Kind: KindFileShare, FileShare: &FileShare{Path: root}})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()
	points, err := bs.RecoveryPoints(ctx, dir)
	if err != nil {
		t.Fatalf("RecoveryPoints: %v", err)
	}
	if len(points) != 3 {
		t.Fatalf("got %d points, want 3: %+v", len(points), points)
	}

	wantNames := []string{"2026-01-01 10.00.00", "2026-01-02 10.00.00", "2026-01-03 10.00.00"}
	wantFull := []bool{true, false, false}
	for i, rp := range points {
		if rp.Name != wantNames[i] || rp.Full != wantFull[i] {
			t.Errorf("point %d = %s full=%v, want %s full=%v", i, rp.Name, rp.Full, wantNames[i], wantFull[i])
		}
	}
	if want := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC); !points[1].Created.Equal(want) {
		t.Errorf("created = %v, want %v", points[1].Created, want)
	}
	if n := len(points[1].Objects); n != 3 {
		t.Errorf("folder point has %d objects, want 3: %v", n, points[1].Objects)
	}
	if last := points[0].Objects[len(points[0].Objects)-1]; !strings.HasSuffix(last, MetadataExt) {
		t.Errorf("metadata should be deleted last, objects end with %q", last)
	}

	for _, rp := range points[:2] {
		if err := bs.Delete(ctx, rp); err != nil {
			t.Fatalf("Delete %s: %v", rp.Name, err)
		}
	}
	for _, gone := range []string{"2026-01-01 10.00.00.zip", "2026-01-01 10.00.00.bkmetadata", "2026-01-02 10.00.00"} {
		if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(dir), gone)); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("%s still exists (err=%v)", gone, err)
		}
	}
	left, err := bs.RecoveryPoints(ctx, dir)
	if err != nil || len(left) != 1 {
		t.Fatalf("after delete: %d points, err=%v", len(left), err)
	}

	// Deleting twice is not an error.
	if err := bs.Delete(ctx, points[0]); err != nil {
		t.Errorf("second delete: %v", err)
	}
}

func TestFileStoreMissingPartition(t *testing.T) {
	bs, err := NewDestinationChecker().Open(&Descriptor{Kind: KindFileShare, FileShare: &FileShare{Path: t.TempDir()}})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	points, err := bs.RecoveryPoints(context.Background(), PartitionDir("fabric:/App/Svc", testPartition))
	if err != nil || len(points) != 0 {
		t.Errorf("expected no points and no error, got %v / %v", points, err)
	}
}

func TestOpenRemoteShare(t *testing.T) {
	_, err := NewDestinationChecker().Open(&Descriptor{Kind: KindFileShare, FileShare: &FileShare{Path: `\\server\backups`}})
	if !errors.Is(err, ErrDestinationUnreachable) {
		t.Errorf("expected ErrDestinationUnreachable, got %v", err)
	}
	_, err = NewDestinationChecker().Open(&Descriptor{Kind: "Tape"})
	if !errors.Is(err, ErrUnsupportedKind) {
		t.Errorf("expected ErrUnsupportedKind, got %v", err)
	}
}

// fakeContainer serves List Blobs, Get Blob and Delete Blob for one
// container of the development account.
type fakeContainer struct {
	mu       sync.Mutex
	base     string
	blobs    map[string]string
	modified time.Time
	deleted  []string
}

func newFakeContainer(container string) *fakeContainer {
	return &fakeContainer{
		base:     "/devstoreaccount1/" + container,
		blobs:    make(map[string]string),
		modified: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (f *fakeContainer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !strings.HasPrefix(r.URL.Path, f.base) {
		w.Header().Set("x-ms-error-code", "ContainerNotFound")
		w.WriteHeader(http.StatusNotFound)
		return
	}
	name := strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, f.base), "/")
	q := r.URL.Query()

	switch {
	case r.Method == http.MethodGet && q.Get("comp") == "list":
		f.list(w, q.Get("prefix"))
	case r.Method == http.MethodGet:
		body, ok := f.blobs[name]
		if !ok {
			w.Header().Set("x-ms-error-code", "BlobNotFound")
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Length", fmt.Sprint(len(body)))
		w.Header().Set("x-ms-blob-type", "BlockBlob")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(body))
	case r.Method == http.MethodDelete:
		if _, ok := f.blobs[name]; !ok {
			w.Header().Set("x-ms-error-code", "BlobNotFound")
			w.WriteHeader(http.StatusNotFound)
			return
		}
		delete(f.blobs, name)
		f.deleted = append(f.deleted, name)
		w.WriteHeader(http.StatusAccepted)
	default:
		w.WriteHeader(http.StatusBadRequest)
	}
}

func (f *fakeContainer) list(w http.ResponseWriter, prefix string) {
	var names []string
	for name := range f.blobs {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="utf-8"?><EnumerationResults><Blobs>`)
	for _, name := range names {
		b.WriteString("<Blob><Name>")
		_ = xml.EscapeText(&b, []byte(name))
		fmt.Fprintf(&b, "</Name><Properties><Last-Modified>%s</Last-Modified><Content-Length>%d</Content-Length><BlobType>BlockBlob</BlobType></Properties></Blob>",
			f.modified.Format(http.TimeFormat), len(f.blobs[name]))
	}
	b.WriteString("</Blobs><NextMarker /></EnumerationResults>")

	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(b.String()))
}

func (f *fakeContainer) has(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.blobs[name]
	return ok
}

func TestBlobStoreRecoveryPoints(t *testing.T) {
	fake := newFakeContainer("backups")
	dir := PartitionDir("fabric:/App/Group/Svc", testPartition)
	fake.blobs["nightly/"+dir+"/2026-01-01 10.00.00.bkmetadata"] = fullMetadata
	fake.blobs["nightly/"+dir+"/2026-01-01 10.00.00.zip"] = "zip"
	fake.blobs["nightly/"+dir+"/2026-01-02 10.00.00.bkmetadata"] = incrMetadata
	fake.blobs["nightly/"+dir+"/2026-01-02 10.00.00.zip"] = "zip"
	fake.blobs["nightly/App/Other/"+testPartition+"/2026-01-01 10.00.00.bkmetadata"] = fullMetadata

	srv := httptest.NewServer(fake)
	defer srv.Close()

	conn := "DefaultEndpointsProtocol=http;AccountName=devstoreaccount1;AccountKey=" + devAccountKey +
		";BlobEndpoint=" + srv.URL + "/devstoreaccount1;"
	bs, err := NewDestinationChecker().Open(&Descriptor{Kind: KindAzureBlob, AzureBlob: &AzureBlob{
		ConnectionString: conn, ContainerName: "backups", FolderPath: "/nightly/",
	}})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	ctx := context.Background()
	points, err := bs.RecoveryPoints(ctx, dir)
	if err != nil {
		t.Fatalf("RecoveryPoints: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("got %d points, want 2: %+v", len(points), points)
	}
	if !points[0].Full || points[1].Full {
		t.Errorf("full flags = %v, %v; want true, false", points[0].Full, points[1].Full)
	}
	if want := []string{dir + "/2026-01-01 10.00.00.zip", dir + "/2026-01-01 10.00.00.bkmetadata"}; strings.Join(points[0].Objects, ",") != strings.Join(want, ",") {
		t.Errorf("objects = %v, want %v", points[0].Objects, want)
	}

	if err := bs.Delete(ctx, points[0]); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if fake.has("nightly/" + dir + "/2026-01-01 10.00.00.zip") {
		t.Error("zip blob was not deleted")
	}
	if !fake.has("nightly/" + dir + "/2026-01-02 10.00.00.zip") {
		t.Error("newer blob should be untouched")
	}
	if err := bs.Delete(ctx, points[0]); err != nil {
		t.Errorf("deleting a gone point: %v", err)
	}
}

func TestBlobStoreMissingContainer(t *testing.T) {
	srv := httptest.NewServer(newFakeContainer("backups"))
	defer srv.Close()

	conn := "DefaultEndpointsProtocol=http;AccountName=devstoreaccount1;AccountKey=" + devAccountKey +
		";BlobEndpoint=" + srv.URL + "/devstoreaccount1;"
	bs, err := NewDestinationChecker().Open(&Descriptor{Kind: KindAzureBlob, AzureBlob: &AzureBlob{ConnectionString: conn, ContainerName: "gone"}})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_, err = bs.RecoveryPoints(context.Background(), PartitionDir("fabric:/App/Svc", testPartition))
	if !errors.Is(err, ErrDestinationNotFound) {
		t.Errorf("expected ErrDestinationNotFound, got %v", err)
	}
}
