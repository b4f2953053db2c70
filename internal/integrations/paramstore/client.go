// Package paramstore reads secrets such as model API keys from AWS SSM Parameter Store.
package paramstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ssmAPI is the slice of *ssm.Client used here.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Getter resolves a parameter name to its decrypted value.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// Client fetches decrypted parameters from SSM.
type Client struct {
	api ssmAPI
}

// New wraps an SSM API.
func New(api ssmAPI) (*Client, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	return &Client{api: api}, nil
}

func (c *Client) GetParameter(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("paramstore: name is required")
	}

	withDecryption := true
	out, err := c.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: &withDecryption,
	})
	if err != nil {
		return "", fmt.Errorf("paramstore: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("paramstore: parameter %q missing value", name)
	}
	return *out.Parameter.Value, nil
}

type cachedValue struct {
	value     string
	expiresAt time.Time
}

// CachingGetter memoizes another Getter for ttl. Errors are not cached.
type CachingGetter struct {
	next Getter
	ttl  time.Duration
	now  func() time.Time

	mu    sync.Mutex
	cache map[string]cachedValue
}

// NewCachingGetter wraps next; ttl <= 0 defaults to five minutes.
func NewCachingGetter(next Getter, ttl time.Duration) *CachingGetter {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachingGetter{
		next:  next,
		ttl:   ttl,
		now:   time.Now,
		cache: make(map[string]cachedValue),
	}
}

func (g *CachingGetter) GetParameter(ctx context.Context, name string) (string, error) {
	now := g.now()
	g.mu.Lock()
	if v, ok := g.cache[name]; ok && now.Before(v.expiresAt) {
		g.mu.Unlock()
		return v.value, nil
	}
	g.mu.Unlock()

	value, err := g.next.GetParameter(ctx, name)
	if err != nil {
		return "", err
	}
	g.mu.Lock()
	g.cache[name] = cachedValue{value: value, expiresAt: now.Add(g.ttl)}
	g.mu.Unlock()
	return value, nil
}
