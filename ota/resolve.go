package ota

import (
	"context"
	"fmt"
	"strings"
)

type URLResolver interface {
	Resolve(ctx context.Context, target string) (string, error)
}

// Resolver turns an update target into a download url. http and https
// targets are used as given, s3://bucket/key and bare keys are presigned.
type Resolver struct {
	Presigner *Presigner
	Bucket    string
}

func (r *Resolver) Resolve(ctx context.Context, target string) (string, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", fmt.Errorf("empty update target")
	}
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		return target, nil
	}

	bucket, key := r.Bucket, target
	if rest, ok := strings.CutPrefix(target, "s3://"); ok {
		bucket, key, ok = strings.Cut(rest, "/")
		if !ok || key == "" {
			return "", fmt.Errorf("s3 target [%v] has no key", target)
		}
	}
	if bucket == "" {
		return "", fmt.Errorf("no bucket configured for key [%v]", key)
	}
	if r.Presigner == nil {
		return "", fmt.Errorf("no presigner configured for [%v]", target)
	}
	return r.Presigner.PresignGet(ctx, bucket, key)
}
