package ota

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/jonboulle/clockwork"
)

const unsignedPayload = "UNSIGNED-PAYLOAD"

// Presigner produces time limited S3 GET urls.
type Presigner struct {
	Credentials aws.CredentialsProvider
	Region      string
	Lifetime    time.Duration
	Clock       clockwork.Clock
}

func (p *Presigner) PresignGet(ctx context.Context, bucket, key string) (string, error) {
	if p.Credentials == nil {
		return "", fmt.Errorf("no credential provider configured")
	}
	creds, err := p.Credentials.Retrieve(ctx)
	if err != nil {
		return "", err
	}

	u := fmt.Sprintf("https://%v.s3.%v.amazonaws.com/%v", bucket, p.Region, strings.TrimPrefix(key, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	q := req.URL.Query()
	q.Set("X-Amz-Expires", strconv.Itoa(int(p.Lifetime/time.Second)))
	req.URL.RawQuery = q.Encode()

	clock := p.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	signer := v4.NewSigner(func(o *v4.SignerOptions) {
		o.DisableURIPathEscaping = true
	})
	signed, _, err := signer.PresignHTTP(ctx, creds, req, unsignedPayload, "s3", p.Region, clock.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("presign: %w", err)
	}
	return signed, nil
}
