package blob

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"testing"
)

func testStores(t *testing.T) map[string]Store {
	t.Helper()
	fsStore, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("filesystem store: %v", err)
	}
	return map[string]Store{
		"memory": NewMemory(),
		"fs":     fsStore,
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			payload := []byte(`{"values":[1,2,3]}`)
			info, err := store.Put(ctx, "frames/abc123/values.json", bytes.NewReader(payload), PutOptions{
				ContentType: "application/json",
				Metadata:    map[string]string{"realization_id": "abc123"},
			})
			if err != nil {
				t.Fatalf("put: %v", err)
			}
			if info.Size != int64(len(payload)) {
				t.Fatalf("size = %d, want %d", info.Size, len(payload))
			}
			sum := sha256.Sum256(payload)
			if info.ETag != hex.EncodeToString(sum[:]) {
				t.Fatalf("etag = %s, want sha256 of payload", info.ETag)
			}

			got, rc, err := store.Get(ctx, "frames/abc123/values.json")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			body, err := io.ReadAll(rc)
			_ = rc.Close()
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if !bytes.Equal(body, payload) {
				t.Fatalf("payload mismatch: %q", body)
			}
			if got.Metadata["realization_id"] != "abc123" {
				t.Fatalf("metadata lost: %+v", got.Metadata)
			}
		})
	}
}

func TestPutIsCreateOnly(t *testing.T) {
	ctx := context.Background()
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := store.Put(ctx, "k", strings.NewReader("a"), PutOptions{}); err != nil {
				t.Fatalf("first put: %v", err)
			}
			_, err := store.Put(ctx, "k", strings.NewReader("b"), PutOptions{})
			if !errors.Is(err, ErrExists) {
				t.Fatalf("second put err = %v, want ErrExists", err)
			}
		})
	}
}

func TestGetMissing(t *testing.T) {
	ctx := context.Background()
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			if _, _, err := store.Get(ctx, "absent"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("get missing err = %v, want ErrNotFound", err)
			}
			if _, err := store.Head(ctx, "absent"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("head missing err = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := store.Put(ctx, "victim", strings.NewReader("x"), PutOptions{}); err != nil {
				t.Fatalf("put: %v", err)
			}
			ok, err := store.Delete(ctx, "victim")
			if err != nil || !ok {
				t.Fatalf("delete = (%v, %v), want (true, nil)", ok, err)
			}
			ok, err = store.Delete(ctx, "victim")
			if err != nil || ok {
				t.Fatalf("repeat delete = (%v, %v), want (false, nil)", ok, err)
			}
		})
	}
}

func TestListPrefix(t *testing.T) {
	ctx := context.Background()
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			for _, key := range []string{"frames/b/values.json", "frames/a/values.json", "states/a/state.json"} {
				if _, err := store.Put(ctx, key, strings.NewReader(key), PutOptions{}); err != nil {
					t.Fatalf("put %s: %v", key, err)
				}
			}
			infos, err := store.List(ctx, "frames/")
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(infos) != 2 {
				t.Fatalf("list returned %d blobs, want 2", len(infos))
			}
			if infos[0].Key != "frames/a/values.json" || infos[1].Key != "frames/b/values.json" {
				t.Fatalf("list order: %s, %s", infos[0].Key, infos[1].Key)
			}
		})
	}
}

func TestFilesystemRejectsTraversal(t *testing.T) {
	store, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("filesystem store: %v", err)
	}
	ctx := context.Background()
	for _, key := range []string{"", "../escape", "/abs", "a/../../b"} {
		if _, err := store.Put(ctx, key, strings.NewReader("x"), PutOptions{}); err == nil {
			t.Fatalf("key %q accepted", key)
		}
	}
}

func TestOpenFromEnv(t *testing.T) {
	ctx := context.Background()

	t.Setenv("ALPHAFORGE_BLOB_DRIVER", "memory")
	store, err := Open(ctx)
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	if store.Driver() != DriverMemory {
		t.Fatalf("driver = %s, want memory", store.Driver())
	}

	t.Setenv("ALPHAFORGE_BLOB_DRIVER", "fs")
	t.Setenv("ALPHAFORGE_BLOB_FS_ROOT", t.TempDir())
	store, err = Open(ctx)
	if err != nil {
		t.Fatalf("open fs: %v", err)
	}
	if store.Driver() != DriverFilesystem {
		t.Fatalf("driver = %s, want fs", store.Driver())
	}

	t.Setenv("ALPHAFORGE_BLOB_DRIVER", "carrier-pigeon")
	if _, err := Open(ctx); err == nil {
		t.Fatal("unknown driver accepted")
	}

	t.Setenv("ALPHAFORGE_BLOB_DRIVER", "s3")
	t.Setenv("ALPHAFORGE_BLOB_S3_BUCKET", "")
	if _, err := Open(ctx); err == nil {
		t.Fatal("s3 driver without bucket accepted")
	}
}
