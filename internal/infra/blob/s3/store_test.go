package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"zacharie/internal/blob/core"
)

// fakeBucket serves the subset of the S3 API the store uses.
type fakeBucket struct {
	mu      sync.Mutex
	objects map[string]fakeObject
	// pageSize bounds list pages to exercise continuation tokens
	pageSize int
}

type fakeObject struct {
	body        []byte
	contentType string
	meta        map[string]string
}

func (b *fakeBucket) RoundTrip(req *http.Request) (*http.Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}
	if req.Method == http.MethodGet && req.URL.Query().Get("list-type") == "2" {
		return b.list(req), nil
	}
	obj, exists := b.objects[key]
	switch req.Method {
	case http.MethodHead, http.MethodGet:
		if !exists {
			return respond(http.StatusNotFound, nil, nil), nil
		}
		header := http.Header{
			"Content-Length": {fmt.Sprint(len(obj.body))},
			"Content-Type":   {obj.contentType},
			"Etag":           {`"etag-` + key + `"`},
			"Last-Modified":  {time.Date(2026, 9, 21, 8, 0, 0, 0, time.UTC).Format(http.TimeFormat)},
		}
		for k, v := range obj.meta {
			header.Set("X-Amz-Meta-"+k, v)
		}
		if req.Method == http.MethodHead {
			return respond(http.StatusOK, header, nil), nil
		}
		return respond(http.StatusOK, header, obj.body), nil
	case http.MethodPut:
		if exists && req.Header.Get("If-None-Match") == "*" {
			return respond(http.StatusPreconditionFailed, nil, nil), nil
		}
		body, _ := io.ReadAll(req.Body)
		meta := map[string]string{}
		for k, v := range req.Header {
			if rest, ok := strings.CutPrefix(strings.ToLower(k), "x-amz-meta-"); ok {
				meta[rest] = v[0]
			}
		}
		b.objects[key] = fakeObject{body: body, contentType: req.Header.Get("Content-Type"), meta: meta}
		return respond(http.StatusOK, http.Header{"Etag": {`"etag-` + key + `"`}}, nil), nil
	}
	return respond(http.StatusNotImplemented, nil, nil), nil
}

func (b *fakeBucket) list(req *http.Request) *http.Response {
	prefix := req.URL.Query().Get("prefix")
	token := req.URL.Query().Get("continuation-token")
	var keys []string
	for k := range b.objects {
		if strings.HasPrefix(k, prefix) && k > token {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	truncated := b.pageSize > 0 && len(keys) > b.pageSize
	if truncated {
		keys = keys[:b.pageSize]
	}
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult>`)
	fmt.Fprintf(&sb, "<IsTruncated>%t</IsTruncated>", truncated)
	if truncated {
		fmt.Fprintf(&sb, "<NextContinuationToken>%s</NextContinuationToken>", keys[len(keys)-1])
	}
	for _, k := range keys {
		fmt.Fprintf(&sb, "<Contents><Key>%s</Key><Size>%d</Size><LastModified>2026-09-21T08:00:00Z</LastModified></Contents>", k, len(b.objects[k].body))
	}
	sb.WriteString("</ListBucketResult>")
	return respond(http.StatusOK, http.Header{"Content-Type": {"application/xml"}}, []byte(sb.String()))
}

func respond(status int, header http.Header, body []byte) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{
		StatusCode:    status,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
	}
}

func newFakeStore(t *testing.T, prefix string) (*Store, *fakeBucket) {
	t.Helper()
	t.Setenv("AWS_CA_BUNDLE", "")
	bucket := &fakeBucket{objects: map[string]fakeObject{}}
	store, err := New(context.Background(), Config{
		Region:          "eu-west-3",
		Bucket:          "archive",
		Prefix:          prefix,
		Endpoint:        "http://s3.test",
		AccessKeyID:     "AKIATEST",
		SecretAccessKey: "secret",
		PathStyle:       true,
		HTTPClient:      &http.Client{Transport: bucket},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return store, bucket
}

func TestStorePutIsCreateOnly(t *testing.T) {
	ctx := context.Background()
	store, bucket := newFakeStore(t, "zacharie")
	info, err := store.Put(ctx, "audit/ZACH-1/a.jsonl", strings.NewReader("{}\n"), core.PutOptions{ContentType: "application/x-ndjson", Metadata: map[string]string{"fei": "ZACH-1"}})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != "audit/ZACH-1/a.jsonl" || info.Size != 3 || info.ETag != "etag-zacharie/audit/ZACH-1/a.jsonl" {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, ok := bucket.objects["zacharie/audit/ZACH-1/a.jsonl"]; !ok {
		t.Fatalf("object not written under the prefix: %v", bucket.objects)
	}

	_, err = store.Put(ctx, "audit/ZACH-1/a.jsonl", strings.NewReader("other"), core.PutOptions{})
	if !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}

	got, rc, err := store.Get(ctx, "audit/ZACH-1/a.jsonl")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != "{}\n" || got.ContentType != "application/x-ndjson" || got.Metadata["fei"] != "ZACH-1" {
		t.Fatalf("unexpected object %q %+v", body, got)
	}
}

func TestStoreGetMissing(t *testing.T) {
	store, _ := newFakeStore(t, "")
	if _, _, err := store.Get(context.Background(), "nope"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreListFollowsContinuation(t *testing.T) {
	ctx := context.Background()
	store, bucket := newFakeStore(t, "")
	bucket.pageSize = 1
	for _, key := range []string{"audit/B/1.jsonl", "audit/A/1.jsonl", "audit/A/2.jsonl", "other"} {
		if _, err := store.Put(ctx, key, strings.NewReader("x"), core.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	list, err := store.List(ctx, "audit/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var keys []string
	for _, info := range list {
		keys = append(keys, info.Key)
	}
	if strings.Join(keys, ",") != "audit/A/1.jsonl,audit/A/2.jsonl,audit/B/1.jsonl" {
		t.Fatalf("unexpected keys %v", keys)
	}
}

func TestNewRequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error for missing bucket")
	}
	store, _ := newFakeStore(t, "")
	if store.Driver() != core.DriverS3 {
		t.Fatalf("expected DriverS3")
	}
}
