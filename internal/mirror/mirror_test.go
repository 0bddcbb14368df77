package mirror

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/spf13/afero"

	"github.com/keithlinneman/storyboard/internal/cryptoutil"
	"github.com/keithlinneman/storyboard/internal/log"
)

type putCall struct {
	bucket, key string
	body        string
	size        int64
	meta        map[string]string
}

// stubPutter records PutObject calls.
type stubPutter struct {
	calls []putCall
	err   error
}

func (s *stubPutter) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if s.err != nil {
		return nil, s.err
	}
	b, _ := io.ReadAll(in.Body)
	s.calls = append(s.calls, putCall{
		bucket: aws.ToString(in.Bucket),
		key:    aws.ToString(in.Key),
		body:   string(b),
		size:   aws.ToInt64(in.ContentLength),
		meta:   in.Metadata,
	})
	return &s3.PutObjectOutput{}, nil
}

func newPublisher(t *testing.T, prefix string, stub *stubPutter) *Publisher {
	t.Helper()
	p, err := New(context.Background(), Options{
		Logger: log.Nop(),
		Bucket: "stories",
		Prefix: prefix,
		Client: stub,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestNew_RequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Options{Client: &stubPutter{}}); err == nil {
		t.Fatal("expected error without bucket")
	}
}

func TestNew_RejectsDotSegmentPrefix(t *testing.T) {
	_, err := New(context.Background(), Options{Bucket: "stories", Prefix: "a/../b", Client: &stubPutter{}})
	if err == nil {
		t.Fatal("expected error for prefix with dot segments")
	}
}

func TestKey(t *testing.T) {
	tests := []struct {
		prefix, path, want string
	}{
		{"storyboard", "/srv/story.txt", "storyboard/story.txt"},
		{"/a/b/", "/srv/story.txt", "a/b/story.txt"},
		{"a//b", "/srv/story.txt", "a/b/story.txt"},
		{"", "/srv/story.txt", "story.txt"},
		{"p", "story.txt", "p/story.txt"},
		{"p", `C:\data\story.txt`, "p/story.txt"},
	}
	for _, tt := range tests {
		p := newPublisher(t, tt.prefix, &stubPutter{})
		if got := p.Key(tt.path); got != tt.want {
			t.Errorf("Key(%q) with prefix %q = %q, want %q", tt.path, tt.prefix, got, tt.want)
		}
	}
}

func TestPublish_UploadsFile(t *testing.T) {
	fsys := afero.NewMemMapFs()
	if err := afero.WriteFile(fsys, "/srv/story.txt", []byte("once upon a time"), 0o644); err != nil {
		t.Fatal(err)
	}
	stub := &stubPutter{}
	p := newPublisher(t, "storyboard", stub)

	res, err := p.Publish(context.Background(), fsys, "/srv/story.txt")
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if len(stub.calls) != 1 {
		t.Fatalf("PutObject calls = %d, want 1", len(stub.calls))
	}
	c := stub.calls[0]
	if c.bucket != "stories" || c.key != "storyboard/story.txt" {
		t.Fatalf("dest = s3://%s/%s", c.bucket, c.key)
	}
	if c.body != "once upon a time" {
		t.Fatalf("body = %q", c.body)
	}
	if c.size != 16 {
		t.Fatalf("ContentLength = %d, want 16", c.size)
	}
	want := cryptoutil.SHA256Hex([]byte("once upon a time"))
	if c.meta[MetadataSHA256] != want {
		t.Fatalf("sha256 metadata = %q, want %q", c.meta[MetadataSHA256], want)
	}
	if res.SHA256 != want || res.Size != 16 || res.Key != c.key {
		t.Fatalf("result = %+v", res)
	}
}

func TestPublish_EmptyFile(t *testing.T) {
	fsys := afero.NewMemMapFs()
	_ = afero.WriteFile(fsys, "/story.txt", nil, 0o644)
	stub := &stubPutter{}

	res, err := newPublisher(t, "", stub).Publish(context.Background(), fsys, "/story.txt")
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if res.Size != 0 || len(stub.calls) != 1 {
		t.Fatalf("result = %+v, calls = %d", res, len(stub.calls))
	}
}

func TestPublish_Errors(t *testing.T) {
	fsys := afero.NewMemMapFs()
	_ = afero.WriteFile(fsys, "/story.txt", []byte("x"), 0o644)
	putErr := errors.New("access denied")

	tests := []struct {
		name    string
		path    string
		stub    *stubPutter
		wantErr error
		wantMsg string
	}{
		{name: "empty path", path: "", stub: &stubPutter{}, wantMsg: "storage path is empty"},
		{name: "missing file", path: "/gone.txt", stub: &stubPutter{}, wantMsg: "read /gone.txt"},
		{name: "put fails", path: "/story.txt", stub: &stubPutter{err: putErr}, wantErr: putErr, wantMsg: "s3://stories/story.txt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newPublisher(t, "", tt.stub).Publish(context.Background(), fsys, tt.path)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v in chain", err, tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Fatalf("err = %q, want it to mention %q", err, tt.wantMsg)
			}
		})
	}
}

type stubSigner struct {
	in  *kms.SignInput
	sig []byte
	err error
}

func (s *stubSigner) Sign(ctx context.Context, in *kms.SignInput, _ ...func(*kms.Options)) (*kms.SignOutput, error) {
	s.in = in
	if s.err != nil {
		return nil, s.err
	}
	return &kms.SignOutput{Signature: s.sig}, nil
}

type stubParams struct {
	in  *ssm.PutParameterInput
	err error
}

func (s *stubParams) PutParameter(ctx context.Context, in *ssm.PutParameterInput, _ ...func(*ssm.Options)) (*ssm.PutParameterOutput, error) {
	s.in = in
	if s.err != nil {
		return nil, s.err
	}
	return &ssm.PutParameterOutput{}, nil
}

func TestPublish_SignsAndPublishesPointer(t *testing.T) {
	fsys := afero.NewMemMapFs()
	_ = afero.WriteFile(fsys, "/srv/story.txt", []byte("chapter one"), 0o644)

	puts := &stubPutter{}
	signer := &stubSigner{sig: []byte{0x30, 0x45, 0x02}}
	params := &stubParams{}
	p, err := New(context.Background(), Options{
		Bucket:    "stories",
		KMSKeyID:  "alias/storyboard-mirror",
		SSMParam:  "/storyboard/current-sha256",
		Client:    puts,
		KMSClient: signer,
		SSMClient: params,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := p.Publish(context.Background(), fsys, "/srv/story.txt")
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	digest := cryptoutil.SHA256Hex([]byte("chapter one"))
	if got := hex.EncodeToString(signer.in.Message); got != digest {
		t.Fatalf("signed message = %s, want digest %s", got, digest)
	}
	if signer.in.MessageType != kmstypes.MessageTypeDigest || signer.in.SigningAlgorithm != SigningAlgorithm {
		t.Fatalf("sign input = %+v", signer.in)
	}
	if aws.ToString(signer.in.KeyId) != "alias/storyboard-mirror" {
		t.Fatalf("KeyId = %q", aws.ToString(signer.in.KeyId))
	}

	wantSig := base64.StdEncoding.EncodeToString([]byte{0x30, 0x45, 0x02})
	meta := puts.calls[0].meta
	if res.Signature != wantSig || meta[MetadataSignature] != wantSig || meta[MetadataSigningKey] != "alias/storyboard-mirror" {
		t.Fatalf("signature result = %q, metadata = %v", res.Signature, meta)
	}

	if aws.ToString(params.in.Name) != "/storyboard/current-sha256" || aws.ToString(params.in.Value) != digest {
		t.Fatalf("pointer = %s=%s", aws.ToString(params.in.Name), aws.ToString(params.in.Value))
	}
	if !aws.ToBool(params.in.Overwrite) {
		t.Fatal("pointer must overwrite the previous value")
	}
}

func TestPublish_SigningAndPointerFailures(t *testing.T) {
	fsys := afero.NewMemMapFs()
	_ = afero.WriteFile(fsys, "/story.txt", []byte("x"), 0o644)
	denied := errors.New("AccessDeniedException")

	tests := []struct {
		name      string
		signer    *stubSigner
		params    *stubParams
		wantPuts  int
		wantInErr string
	}{
		{"sign fails", &stubSigner{err: denied}, &stubParams{}, 0, "kms sign"},
		{"empty signature", &stubSigner{}, &stubParams{}, 0, "empty signature"},
		{"pointer fails", &stubSigner{sig: []byte{1}}, &stubParams{err: denied}, 1, "put SSM parameter"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			puts := &stubPutter{}
			p, err := New(context.Background(), Options{
				Bucket:    "stories",
				KMSKeyID:  "k",
				SSMParam:  "/p",
				Client:    puts,
				KMSClient: tt.signer,
				SSMClient: tt.params,
			})
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			_, err = p.Publish(context.Background(), fsys, "/story.txt")
			if err == nil || !strings.Contains(err.Error(), tt.wantInErr) {
				t.Fatalf("err = %v, want it to mention %q", err, tt.wantInErr)
			}
			// an unsigned object is never uploaded
			if len(puts.calls) != tt.wantPuts {
				t.Fatalf("PutObject calls = %d, want %d", len(puts.calls), tt.wantPuts)
			}
		})
	}
}

func TestPublish_NoSigningOrPointerByDefault(t *testing.T) {
	fsys := afero.NewMemMapFs()
	_ = afero.WriteFile(fsys, "/story.txt", []byte("x"), 0o644)
	puts := &stubPutter{}

	res, err := newPublisher(t, "", puts).Publish(context.Background(), fsys, "/story.txt")
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if res.Signature != "" {
		t.Fatalf("unexpected signature %q", res.Signature)
	}
	if _, ok := puts.calls[0].meta[MetadataSignature]; ok {
		t.Fatal("signature metadata set without a key")
	}
}

// gatedPutter blocks its first PutObject until release is closed.
type gatedPutter struct {
	entered chan struct{}
	release chan struct{}

	mu     sync.Mutex
	calls  int
	bodies []string
}

func (g *gatedPutter) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	b, _ := io.ReadAll(in.Body)
	g.mu.Lock()
	g.calls++
	first := g.calls == 1
	g.mu.Unlock()
	if first {
		close(g.entered)
		<-g.release
	}
	g.mu.Lock()
	g.bodies = append(g.bodies, string(b))
	g.mu.Unlock()
	return &s3.PutObjectOutput{}, nil
}

// lockedParams keeps every pointer value written.
type lockedParams struct {
	mu     sync.Mutex
	values []string
}

func (l *lockedParams) PutParameter(ctx context.Context, in *ssm.PutParameterInput, _ ...func(*ssm.Options)) (*ssm.PutParameterOutput, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.values = append(l.values, aws.ToString(in.Value))
	return &ssm.PutParameterOutput{}, nil
}

func TestPublish_OverlappingCallsKeepPointerOnLastObject(t *testing.T) {
	fsys := afero.NewMemMapFs()
	_ = afero.WriteFile(fsys, "/srv/story.txt", []byte("first draft"), 0o644)

	puts := &gatedPutter{entered: make(chan struct{}), release: make(chan struct{})}
	params := &lockedParams{}
	p, err := New(context.Background(), Options{
		Bucket:    "stories",
		SSMParam:  "/storyboard/current-sha256",
		Client:    puts,
		SSMClient: params,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	publish := func() {
		defer wg.Done()
		_, err := p.Publish(context.Background(), fsys, "/srv/story.txt")
		errs <- err
	}

	wg.Add(1)
	go publish()
	<-puts.entered

	// a second write lands while the first upload is still in flight
	_ = afero.WriteFile(fsys, "/srv/story.txt", []byte("second draft"), 0o644)
	wg.Add(1)
	go publish()
	time.Sleep(20 * time.Millisecond)
	close(puts.release)

	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	if len(puts.bodies) != 2 || len(params.values) != 2 {
		t.Fatalf("puts = %d, pointers = %d, want 2 each", len(puts.bodies), len(params.values))
	}
	lastObject := puts.bodies[len(puts.bodies)-1]
	lastPointer := params.values[len(params.values)-1]
	if lastObject != "second draft" {
		t.Fatalf("last object = %q, want second draft", lastObject)
	}
	if lastPointer != cryptoutil.SHA256Hex([]byte(lastObject)) {
		t.Fatalf("pointer %s does not match last object %q", lastPointer, lastObject)
	}
}
