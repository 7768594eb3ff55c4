package auth

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/input-output-hk/catalyst-forge-libs/vaultclient/errors"
	"github.com/input-output-hk/catalyst-forge-libs/vaultclient/transport"
)

type tokenOptions struct {
	Token string `json:"token"`
}

// Token logs in with an existing token. Login looks the token up to learn its
// TTL; Renew extends it with renew-self.
type Token struct {
	token string
}

func newToken(options map[string]any, _ *backendOptions) (Backend, error) {
	var o tokenOptions
	if err := schemas.decode("#Token", options, &o); err != nil {
		return nil, err
	}
	return &Token{token: o.Token}, nil
}

// Name implements Backend.
func (b *Token) Name() string { return BackendToken }

// Login implements Backend.
func (b *Token) Login(ctx context.Context, t transport.Transport) (*transport.Auth, error) {
	resp, err := t.Request(ctx, &transport.Request{
		Method: transport.MethodGet,
		Path:   "auth/token/lookup-self",
		Token:  b.token,
	})
	if err != nil {
		return nil, err
	}
	if resp.Data == nil {
		return nil, errors.New(errors.CodeUnauthorized, "token lookup returned no data")
	}

	renewable, _ := resp.Data["renewable"].(bool)
	accessor, _ := resp.Data["accessor"].(string)
	return &transport.Auth{
		ClientToken:   b.token,
		Accessor:      accessor,
		Policies:      stringList(resp.Data["policies"]),
		LeaseDuration: secondsField(resp.Data["ttl"]),
		Renewable:     renewable,
	}, nil
}

// Renew implements Renewer.
func (b *Token) Renew(ctx context.Context, t transport.Transport) (*transport.Auth, error) {
	resp, err := t.Request(ctx, &transport.Request{
		Method: transport.MethodPost,
		Path:   "auth/token/renew-self",
		Body:   map[string]any{},
		Token:  b.token,
	})
	if err != nil {
		return nil, err
	}
	if resp.Auth == nil {
		return nil, errors.New(errors.CodeUnauthorized, "token renewal returned no auth data")
	}
	auth := *resp.Auth
	if auth.ClientToken == "" {
		auth.ClientToken = b.token
	}
	return &auth, nil
}

// secondsField reads a duration in seconds from a decoded JSON value.
func secondsField(v any) time.Duration {
	var n int64
	switch val := v.(type) {
	case json.Number:
		n, _ = val.Int64()
	case float64:
		n = int64(val)
	case int:
		n = int64(val)
	case int64:
		n = val
	case string:
		n, _ = strconv.ParseInt(val, 10, 64)
	}
	if n < 0 {
		n = 0
	}
	return time.Duration(n) * time.Second
}

func stringList(v any) []string {
	switch val := v.(type) {
	case []string:
		return append([]string(nil), val...)
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
