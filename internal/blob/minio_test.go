package blob

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/sunlog-api/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 answers the path-style subset of the S3 API that MinIO uses.
type fakeS3 struct {
	mu       sync.Mutex
	buckets  map[string]bool
	objects  map[string][]byte
	types    map[string]string
	requests int
	denied   bool
}

func newFakeS3() *fakeS3 {
	return &fakeS3{
		buckets: map[string]bool{},
		objects: map[string][]byte{},
		types:   map[string]string{},
	}
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++

	bucket, key, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if key == "" {
		switch r.Method {
		case http.MethodHead:
			if !f.buckets[bucket] {
				w.WriteHeader(http.StatusNotFound)
				return
			}
		case http.MethodPut:
			f.buckets[bucket] = true
		}
		w.WriteHeader(http.StatusOK)
		return
	}

	name := bucket + "/" + key
	switch r.Method {
	case http.MethodPut:
		data, err := readPayload(r)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.objects[name] = data
		f.types[name] = r.Header.Get("Content-Type")
		w.Header().Set("ETag", `"fake"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodGet, http.MethodHead:
		if f.denied {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		data, ok := f.objects[name]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("ETag", `"fake"`)
		w.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
		w.Header().Set("Content-Type", f.types[name])
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			_, _ = w.Write(data)
		}
	case http.MethodDelete:
		delete(f.objects, name)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// readPayload strips aws-chunked framing from signed streaming uploads.
func readPayload(r *http.Request) ([]byte, error) {
	if !strings.HasPrefix(r.Header.Get("X-Amz-Content-Sha256"), "STREAMING-") {
		return io.ReadAll(r.Body)
	}
	br := bufio.NewReader(r.Body)
	var out []byte
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, err
		}
		sizeHex, _, _ := strings.Cut(strings.TrimSpace(line), ";")
		n, err := strconv.ParseInt(sizeHex, 16, 64)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return out, nil
		}
		chunk := make([]byte, n)
		if _, err := io.ReadFull(br, chunk); err != nil {
			return nil, err
		}
		out = append(out, chunk...)
		if _, err := br.Discard(2); err != nil {
			return nil, err
		}
	}
}

func (f *fakeS3) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests
}

func newTestMinIO(t *testing.T, fake *fakeS3) *MinIO {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	s, err := NewMinIO(context.Background(), config.MinIOConfig{
		Endpoint:  strings.TrimPrefix(srv.URL, "http://"),
		AccessKey: "sunlog",
		SecretKey: "sunlog-secret",
		Bucket:    "sunlog-test",
		Region:    "us-east-1",
	}, nil)
	require.NoError(t, err)
	return s
}

func TestNewMinIO_CreatesMissingBucket(t *testing.T) {
	tests := []struct {
		name   string
		exists bool
	}{
		{"missing bucket is created", false},
		{"existing bucket is reused", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fake := newFakeS3()
			fake.buckets["sunlog-test"] = tc.exists

			newTestMinIO(t, fake)

			assert.True(t, fake.buckets["sunlog-test"])
		})
	}
}

func TestMinIO_RoundTrip(t *testing.T) {
	fake := newFakeS3()
	s := newTestMinIO(t, fake)
	ctx := context.Background()
	group, task := uuid.New(), uuid.New()
	data := []byte("day,m1\n2025-01-15,45.5\n")

	ref, err := s.Put(ctx, group, task, "solar log.jpg", "image/jpeg", data)
	require.NoError(t, err)
	assert.Equal(t, ObjectKey(group, task, "solar log.jpg"), ref)
	assert.Equal(t, "image/jpeg", fake.types["sunlog-test/"+ref])

	got, err := s.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	existed, err := s.Delete(ctx, ref)
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = s.Delete(ctx, ref)
	require.NoError(t, err)
	assert.False(t, existed)

	_, err = s.Get(ctx, ref)
	assert.ErrorIs(t, err, ErrBlobNotFound)
}

func TestMinIO_MissingAndDenied(t *testing.T) {
	ref := ObjectKey(uuid.New(), uuid.New(), "log.jpg")

	tests := []struct {
		name        string
		denied      bool
		wantMissing bool
	}{
		{"missing object maps to not found", false, true},
		{"access denied is not a missing blob", true, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fake := newFakeS3()
			s := newTestMinIO(t, fake)
			fake.mu.Lock()
			fake.denied = tc.denied
			fake.mu.Unlock()

			_, err := s.Get(context.Background(), ref)
			require.Error(t, err)
			assert.Equal(t, tc.wantMissing, errors.Is(err, ErrBlobNotFound))

			existed, err := s.Delete(context.Background(), ref)
			assert.False(t, existed)
			if tc.wantMissing {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.NotErrorIs(t, err, ErrBlobNotFound)
			}
		})
	}
}

func TestMinIO_RejectsInvalidRef(t *testing.T) {
	fake := newFakeS3()
	s := newTestMinIO(t, fake)
	before := fake.requestCount()

	for _, ref := range []string{"", "/abs/log.jpg", "../log.jpg", "a/./b.jpg", `a\b.jpg`} {
		t.Run(ref, func(t *testing.T) {
			_, err := s.Get(context.Background(), ref)
			assert.ErrorIs(t, err, ErrInvalidRef)

			_, err = s.Delete(context.Background(), ref)
			assert.ErrorIs(t, err, ErrInvalidRef)
		})
	}

	assert.Equal(t, before, fake.requestCount())
}
