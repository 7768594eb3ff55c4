package auth

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"

	"github.com/input-output-hk/catalyst-forge-libs/vaultclient/errors"
	"github.com/input-output-hk/catalyst-forge-libs/vaultclient/transport"
)

const (
	stsEndpoint = "https://sts.amazonaws.com/"
	stsBody     = "Action=GetCallerIdentity&Version=2011-06-15"

	// serverIDHeader binds the signed request to one Vault server.
	serverIDHeader = "X-Vault-AWS-IAM-Server-ID"
)

type awsOptions struct {
	Role     string `json:"role"`
	Region   string `json:"region"`
	ServerID string `json:"server_id"`
	Mount    string `json:"mount"`
}

// AWSIAM logs in with an IAM principal. It signs an sts:GetCallerIdentity
// request which the server replays to AWS to learn the caller's identity; the
// AWS credentials themselves never leave the process.
type AWSIAM struct {
	opts   awsOptions
	signer *v4.Signer
	now    func() time.Time

	mu    sync.Mutex
	creds aws.CredentialsProvider
}

func newAWSIAM(options map[string]any, o *backendOptions) (Backend, error) {
	var opts awsOptions
	if err := schemas.decode("#AWS", options, &opts); err != nil {
		return nil, err
	}
	return &AWSIAM{
		opts:   opts,
		signer: v4.NewSigner(),
		now:    time.Now,
		creds:  o.awsCredentials,
	}, nil
}

// Name implements Backend.
func (b *AWSIAM) Name() string { return BackendAWS }

// credentials returns the configured provider, loading the SDK default chain
// on first use.
func (b *AWSIAM) credentials(ctx context.Context) (aws.CredentialsProvider, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.creds != nil {
		return b.creds, nil
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(b.opts.Region))
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidInput, "failed to load AWS config")
	}
	if cfg.Credentials == nil {
		return nil, errors.New(errors.CodeInvalidInput, "no AWS credentials available")
	}
	b.creds = cfg.Credentials
	return b.creds, nil
}

// loginData builds the signed request fields expected by the aws auth method.
func (b *AWSIAM) loginData(ctx context.Context) (map[string]any, error) {
	provider, err := b.credentials(ctx)
	if err != nil {
		return nil, err
	}
	creds, err := provider.Retrieve(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeUnauthorized, "failed to retrieve AWS credentials")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, stsEndpoint, strings.NewReader(stsBody))
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to build sts request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=utf-8")
	if b.opts.ServerID != "" {
		req.Header.Set(serverIDHeader, b.opts.ServerID)
	}

	sum := sha256.Sum256([]byte(stsBody))
	if err := b.signer.SignHTTP(ctx, creds, req, hex.EncodeToString(sum[:]), "sts", b.opts.Region, b.now()); err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to sign sts request")
	}

	headers, err := json.Marshal(req.Header)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to encode sts headers")
	}

	enc := base64.StdEncoding.EncodeToString
	return map[string]any{
		"role":                    b.opts.Role,
		"iam_http_request_method": http.MethodPost,
		"iam_request_url":         enc([]byte(stsEndpoint)),
		"iam_request_body":        enc([]byte(stsBody)),
		"iam_request_headers":     enc(headers),
	}, nil
}

// Login implements Backend.
func (b *AWSIAM) Login(ctx context.Context, t transport.Transport) (*transport.Auth, error) {
	body, err := b.loginData(ctx)
	if err != nil {
		return nil, err
	}
	return issue(ctx, t, BackendAWS, loginPath(b.opts.Mount), body)
}
