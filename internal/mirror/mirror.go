// Package mirror copies the storyboard storage file to S3 after writes.
// Optionally the payload digest is signed with a KMS key and published to
// an SSM parameter, so readers can find and verify the current copy.
package mirror

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"path"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/spf13/afero"

	"github.com/keithlinneman/storyboard/internal/cryptoutil"
	"github.com/keithlinneman/storyboard/internal/log"
	"github.com/keithlinneman/storyboard/internal/pathutil"
	"github.com/keithlinneman/storyboard/internal/xerrors"
)

// Object metadata keys.
const (
	MetadataSHA256     = "sha256"
	MetadataSignature  = "signature"
	MetadataSigningKey = "signing-key"
)

// SigningAlgorithm is used for KMS signatures over the SHA-256 digest.
const SigningAlgorithm = kmstypes.SigningAlgorithmSpecEcdsaSha256

// ObjectPutter is the part of *s3.Client the publisher needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Signer is the part of *kms.Client the publisher needs.
type Signer interface {
	Sign(ctx context.Context, params *kms.SignInput, optFns ...func(*kms.Options)) (*kms.SignOutput, error)
}

// ParameterPutter is the part of *ssm.Client the publisher needs.
type ParameterPutter interface {
	PutParameter(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error)
}

type Options struct {
	Logger log.Logger

	// Destination: s3://{Bucket}/{Prefix}/{basename of the storage file}
	Bucket string
	Prefix string

	// KMSKeyID signs each payload digest when set.
	KMSKeyID string

	// SSMParam receives the digest of the last mirrored payload when set.
	SSMParam string

	// Clients override the ones built from AWSConfig.
	Client    ObjectPutter
	KMSClient Signer
	SSMClient ParameterPutter

	// AWS config (uses default if nil)
	AWSConfig *aws.Config
}

// Result describes one uploaded object.
type Result struct {
	Bucket string
	Key    string
	SHA256 string
	Size   int64

	// Signature is the base64 KMS signature, empty without KMSKeyID.
	Signature string
}

type Publisher struct {
	// mu serializes Publish so the SSM pointer always names the last object
	mu sync.Mutex

	opts   Options
	client ObjectPutter
	signer Signer
	params ParameterPutter
	logger log.Logger
}

// New returns a Publisher. Without opts.Client it loads the default AWS
// config and builds an S3 client from it.
func New(ctx context.Context, opts Options) (*Publisher, error) {
	if opts.Bucket == "" {
		return nil, xerrors.New("Bucket is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	prefix, err := pathutil.CleanKeyPrefix(opts.Prefix)
	if err != nil {
		return nil, xerrors.Wrap(err, "invalid Prefix")
	}
	opts.Prefix = prefix

	p := &Publisher{
		opts:   opts,
		client: opts.Client,
		signer: opts.KMSClient,
		params: opts.SSMClient,
		logger: opts.Logger,
	}
	needKMS := opts.KMSKeyID != "" && p.signer == nil
	needSSM := opts.SSMParam != "" && p.params == nil
	if p.client != nil && !needKMS && !needSSM {
		return p, nil
	}

	var awsCfg aws.Config
	if opts.AWSConfig != nil {
		awsCfg = *opts.AWSConfig
	} else {
		awsCfg, err = config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, xerrors.Wrap(err, "load AWS config")
		}
	}
	if p.client == nil {
		p.client = s3.NewFromConfig(awsCfg)
	}
	if needKMS {
		p.signer = kms.NewFromConfig(awsCfg)
	}
	if needSSM {
		p.params = ssm.NewFromConfig(awsCfg)
	}
	return p, nil
}

// Key returns the object key for the storage file at storagePath.
func (p *Publisher) Key(storagePath string) string {
	base := path.Base(strings.ReplaceAll(storagePath, `\`, "/"))
	if p.opts.Prefix != "" {
		return p.opts.Prefix + "/" + base
	}
	return base
}

// Publish reads storagePath from fsys and uploads it whole. Calls run one
// at a time; a later call reads the file only after the earlier one has
// moved the pointer.
func (p *Publisher) Publish(ctx context.Context, fsys afero.Fs, storagePath string) (Result, error) {
	if storagePath == "" {
		return Result{}, xerrors.New("storage path is empty")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := afero.ReadFile(fsys, storagePath)
	if err != nil {
		return Result{}, xerrors.Wrapf(err, "read %s", storagePath)
	}

	res := Result{
		Bucket: p.opts.Bucket,
		Key:    p.Key(storagePath),
		SHA256: cryptoutil.SHA256Hex(data),
		Size:   int64(len(data)),
	}

	meta := map[string]string{MetadataSHA256: res.SHA256}
	if p.opts.KMSKeyID != "" {
		sig, err := p.sign(ctx, res.SHA256)
		if err != nil {
			return Result{}, err
		}
		res.Signature = sig
		meta[MetadataSignature] = sig
		meta[MetadataSigningKey] = p.opts.KMSKeyID
	}

	_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(res.Bucket),
		Key:           aws.String(res.Key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(res.Size),
		ContentType:   aws.String("text/plain; charset=utf-8"),
		Metadata:      meta,
	})
	if err != nil {
		return Result{}, xerrors.Wrapf(err, "put S3 object s3://%s/%s", res.Bucket, res.Key)
	}

	// the pointer moves only once the object it names exists
	if p.opts.SSMParam != "" {
		_, err = p.params.PutParameter(ctx, &ssm.PutParameterInput{
			Name:      aws.String(p.opts.SSMParam),
			Value:     aws.String(res.SHA256),
			Type:      ssmtypes.ParameterTypeString,
			Overwrite: aws.Bool(true),
		})
		if err != nil {
			return Result{}, xerrors.Wrapf(err, "put SSM parameter %s", p.opts.SSMParam)
		}
	}

	p.logger.Info(ctx, "storyboard mirrored",
		"bucket", res.Bucket,
		"key", res.Key,
		"sha256", res.SHA256,
		"bytes", res.Size,
		"signed", res.Signature != "",
	)
	return res, nil
}

// sign asks KMS to sign the hex digest's raw bytes.
func (p *Publisher) sign(ctx context.Context, digestHex string) (string, error) {
	digest, err := hex.DecodeString(digestHex)
	if err != nil {
		return "", xerrors.Wrap(err, "decode digest")
	}
	out, err := p.signer.Sign(ctx, &kms.SignInput{
		KeyId:            aws.String(p.opts.KMSKeyID),
		Message:          digest,
		MessageType:      kmstypes.MessageTypeDigest,
		SigningAlgorithm: SigningAlgorithm,
	})
	if err != nil {
		return "", xerrors.Wrapf(err, "kms sign with %s", p.opts.KMSKeyID)
	}
	if len(out.Signature) == 0 {
		return "", xerrors.Newf("kms returned an empty signature for %s", p.opts.KMSKeyID)
	}
	return base64.StdEncoding.EncodeToString(out.Signature), nil
}
