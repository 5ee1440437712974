// Package source opens conversion inputs wherever they live. A path is
// either a local file or an s3:// object, and either may be
// zstandard-compressed; every open returns a plain io.ReadCloser the format
// readers can stream sequentially.
package source

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/DataDog/zstd"
	"github.com/minio/minio-go/v6"
	"github.com/minio/minio-go/v6/pkg/credentials"
)

var ErrBadLocation = errors.New("input location is neither a file path nor an s3 url")

// S3Config carries the endpoint and credentials for s3:// inputs. The zero
// value falls back to the environment (AWS_ACCESS_KEY_ID and friends) and
// the standard AWS endpoint.
type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
	Region    string `yaml:"region"`
}

// Open resolves location and returns a sequential reader over its bytes,
// transparently decompressing a .zst suffix.
func Open(location string, cfg S3Config) (io.ReadCloser, error) {
	var rc io.ReadCloser
	var err error
	switch {
	case strings.HasPrefix(location, "s3://"):
		rc, err = openS3(location, cfg)
	case strings.Contains(location, "://"):
		return nil, fmt.Errorf("%w: %q", ErrBadLocation, location)
	default:
		rc, err = os.Open(location)
	}
	if err != nil {
		return nil, err
	}
	if strings.HasSuffix(location, ".zst") {
		return &zstdReadCloser{r: zstd.NewReader(rc), src: rc}, nil
	}
	return rc, nil
}

// Size returns the byte size of a local input, or 0 when the location is
// remote or compressed and the size is not cheaply known.
func Size(location string) int64 {
	if strings.Contains(location, "://") || strings.HasSuffix(location, ".zst") {
		return 0
	}
	st, err := os.Stat(location)
	if err != nil {
		return 0
	}
	return st.Size()
}

func openS3(location string, cfg S3Config) (io.ReadCloser, error) {
	u, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadLocation, err)
	}
	bucket := u.Host
	key := strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return nil, fmt.Errorf("%w: %q", ErrBadLocation, location)
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "s3.amazonaws.com"
	}
	var creds *credentials.Credentials
	if cfg.AccessKey != "" {
		creds = credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, "")
	} else {
		creds = credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvAWS{},
			&credentials.EnvMinio{},
			&credentials.FileAWSCredentials{},
			&credentials.IAM{},
		})
	}
	client, err := minio.NewWithOptions(endpoint, &minio.Options{
		Creds:  creds,
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 client: %w", err)
	}
	obj, err := client.GetObject(bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("s3 get %s/%s: %w", bucket, key, err)
	}
	return obj, nil
}

// zstdReadCloser closes both the decompressor and the underlying stream.
type zstdReadCloser struct {
	r   io.ReadCloser
	src io.ReadCloser
}

func (z *zstdReadCloser) Read(p []byte) (int, error) { return z.r.Read(p) }

func (z *zstdReadCloser) Close() error {
	err := z.r.Close()
	if cerr := z.src.Close(); err == nil {
		err = cerr
	}
	return err
}

// Create opens a local output path for writing, compressing through zstd
// when the path ends in .zst.
func Create(path string) (io.WriteCloser, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	if strings.HasSuffix(path, ".zst") {
		return &zstdWriteCloser{w: zstd.NewWriter(f), dst: f}, nil
	}
	return f, nil
}

type zstdWriteCloser struct {
	w   io.WriteCloser
	dst io.WriteCloser
}

func (z *zstdWriteCloser) Write(p []byte) (int, error) { return z.w.Write(p) }

func (z *zstdWriteCloser) Close() error {
	err := z.w.Close()
	if cerr := z.dst.Close(); err == nil {
		err = cerr
	}
	return err
}
