package stack

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"testing"

	"golang.org/x/image/tiff"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// fakeBucket answers ListObjectsV2 and GetObject for path style requests.
type fakeBucket struct{ objects map[string][]byte }

func (b *fakeBucket) RoundTrip(req *http.Request) (*http.Response, error) {
	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}
	if req.Method == http.MethodGet && strings.Contains(req.URL.RawQuery, "list-type=2") {
		prefix := req.URL.Query().Get("prefix")
		var keys []string
		for k := range b.objects {
			if strings.HasPrefix(k, prefix) {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		var sb strings.Builder
		sb.WriteString(`<?xml version="1.0"?><ListBucketResult><IsTruncated>false</IsTruncated>`)
		for _, k := range keys {
			fmt.Fprintf(&sb, "<Contents><Key>%s</Key><Size>%d</Size></Contents>", k, len(b.objects[k]))
		}
		sb.WriteString("</ListBucketResult>")
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(sb.String())),
			Header: http.Header{"Content-Type": {"application/xml"}}}, nil
	}
	if req.Method == http.MethodGet {
		if data, ok := b.objects[key]; ok {
			return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewReader(data)),
				ContentLength: int64(len(data)),
				Header:        http.Header{"Content-Length": {fmt.Sprint(len(data))}}}, nil
		}
	}
	return &http.Response{StatusCode: http.StatusNotFound, Body: io.NopCloser(strings.NewReader("<Error><Code>NoSuchKey</Code></Error>")),
		Header: http.Header{"Content-Type": {"application/xml"}}}, nil
}

func newFakeClient(t *testing.T, rt http.RoundTripper) *s3.Client {
	t.Helper()
	cfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("AKIA", "SECRET", "")),
	)
	if err != nil {
		t.Fatalf("LoadDefaultConfig: %v", err)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.HTTPClient = &http.Client{Transport: rt}
		o.UsePathStyle = true
		o.BaseEndpoint = aws.String("https://mock.s3.local")
	})
}

func TestS3Source(t *testing.T) {
	objects := map[string][]byte{}
	for i, base := range []float64{100, 200} {
		var buf bytes.Buffer
		if err := tiff.Encode(&buf, gray16(rampFrame(4, 3, base)), nil); err != nil {
			t.Fatal(err)
		}
		objects[fmt.Sprintf("scan/frame_%d.tif", 10-i*9)] = buf.Bytes()
	}
	objects["scan/readme.txt"] = []byte("ignored")
	objects["other/frame_5.tif"] = objects["scan/frame_10.tif"]

	src, err := OpenS3WithClient(context.Background(), newFakeClient(t, &fakeBucket{objects: objects}), "detector", "scan/")
	if err != nil {
		t.Fatalf("OpenS3WithClient: %v", err)
	}
	if got := src.Keys(); len(got) != 2 || got[0] != "scan/frame_1.tif" || got[1] != "scan/frame_10.tif" {
		t.Fatalf("Keys() = %v", got)
	}
	f, err := src.Frame(context.Background(), 0)
	if err != nil {
		t.Fatalf("Frame: %v", err)
	}
	if f.At(1, 1) != 211 {
		t.Errorf("frame_1 At(1,1) = %v, want 211", f.At(1, 1))
	}
}
