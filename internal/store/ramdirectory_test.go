package store

import "testing"

func TestRAMDirectoryOutputThenInput(t *testing.T) {
	dir := NewRAMDirectory()
	out, err := dir.CreateOutput("segment_1.fid")
	if err != nil {
		t.Fatalf("CreateOutput: %v", err)
	}
	if _, err := out.Write([]byte("hello world")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := out.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if !dir.FileExists("segment_1.fid") {
		t.Fatalf("expected file to exist after Close")
	}

	in, err := dir.OpenInput("segment_1.fid")
	if err != nil {
		t.Fatalf("OpenInput: %v", err)
	}
	defer in.Close()

	size, err := in.Size()
	if err != nil || size != 11 {
		t.Fatalf("Size() = %d, %v; want 11, nil", size, err)
	}

	buf := make([]byte, 5)
	n, err := in.ReadAt(buf, 6)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if n != 5 || string(buf) != "world" {
		t.Fatalf("ReadAt got %q, want %q", buf[:n], "world")
	}
}

func TestRAMDirectoryDeleteAndList(t *testing.T) {
	dir := NewRAMDirectory()
	for _, name := range []string{"info_1", "info_2", "segment_1.fii"} {
		out, _ := dir.CreateOutput(name)
		out.Close()
	}
	if err := dir.DeleteFile("info_1"); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}
	names, err := dir.ListFiles()
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	want := []string{"info_2", "segment_1.fii"}
	if len(names) != len(want) {
		t.Fatalf("ListFiles = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("ListFiles[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestRAMDatabasePutGetDeleteScan(t *testing.T) {
	dir := NewRAMDirectory()
	db, err := dir.OpenDatabase("oplog")
	if err != nil {
		t.Fatalf("OpenDatabase: %v", err)
	}
	defer db.Close()

	entries := map[string]string{"a": "1", "c": "3", "b": "2"}
	for k, v := range entries {
		if err := db.Put([]byte(k), []byte(v)); err != nil {
			t.Fatalf("Put(%s): %v", k, err)
		}
	}

	var seen []string
	if err := db.Scan(nil, nil, func(k, v []byte) bool {
		seen = append(seen, string(k))
		return true
	}); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	want := []string{"a", "b", "c"}
	if len(seen) != len(want) {
		t.Fatalf("Scan order = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("Scan[%d] = %q, want %q", i, seen[i], want[i])
		}
	}

	if err := db.Delete([]byte("b")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	v, err := db.Get([]byte("b"))
	if err != nil {
		t.Fatalf("Get after delete: %v", err)
	}
	if v != nil {
		t.Fatalf("Get(b) after delete = %v, want nil", v)
	}

	v, err = db.Get([]byte("c"))
	if err != nil || string(v) != "3" {
		t.Fatalf("Get(c) = %s, %v; want 3, nil", v, err)
	}
}

func TestRAMDatabaseScanRange(t *testing.T) {
	dir := NewRAMDirectory()
	db, _ := dir.OpenDatabase("oplog")
	for _, k := range []string{"a", "b", "c", "d", "e"} {
		if err := db.Put([]byte(k), []byte(k)); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	var seen []string
	if err := db.Scan([]byte("b"), []byte("d"), func(k, v []byte) bool {
		seen = append(seen, string(k))
		return true
	}); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	want := []string{"b", "c"}
	if len(seen) != len(want) {
		t.Fatalf("Scan range = %v, want %v", seen, want)
	}
}
