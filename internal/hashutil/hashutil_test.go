package hashutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestHashFile_MatchesHashReader(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	content := "hello world"
	path := filepath.Join(dir, "test.txt")

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	for _, algo := range []Algorithm{AlgorithmBlake3, AlgorithmSHA256} {
		got, err := HashFile(path, algo)
		if err != nil {
			t.Fatalf("HashFile(%s): %v", algo, err)
		}

		want, err := HashReader(strings.NewReader(content), algo)
		if err != nil {
			t.Fatalf("HashReader(%s): %v", algo, err)
		}

		if got != want {
			t.Errorf("algo %s: HashFile = %q, want %q", algo, got, want)
		}
	}
}

func TestHashFile_EmptyFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "empty.txt")

	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	hash, err := HashFile(path, AlgorithmBlake3)
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}

	if hash == "" {
		t.Error("empty file hash should not be empty string")
	}
}

func TestHashFile_NonexistentFile(t *testing.T) {
	t.Parallel()

	_, err := HashFile("/nonexistent/path/file.txt", AlgorithmBlake3)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestHashFile_UnknownAlgorithm(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "test.txt")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := HashFile(path, Algorithm("md5"))
	if err == nil {
		t.Fatal("expected error for unknown algorithm, got nil")
	}
}

func TestHashFile_DifferentContentDifferentHash(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	pathA := filepath.Join(dir, "a.txt")
	pathB := filepath.Join(dir, "b.txt")

	if err := os.WriteFile(pathA, []byte("content a"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(pathB, []byte("content b"), 0o644); err != nil {
		t.Fatal(err)
	}

	hashA, err := HashFile(pathA, AlgorithmBlake3)
	if err != nil {
		t.Fatal(err)
	}
	hashB, err := HashFile(pathB, AlgorithmBlake3)
	if err != nil {
		t.Fatal(err)
	}

	if hashA == hashB {
		t.Error("different content produced the same hash")
	}
}

func TestEqual(t *testing.T) {
	t.Parallel()

	if Equal("", "") {
		t.Error("empty hashes should never compare equal")
	}
	if Equal("abc", "") {
		t.Error("empty hash should never compare equal to a populated one")
	}
	if !Equal("abc", "abc") {
		t.Error("identical non-empty hashes should compare equal")
	}
}
