// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/axonflow-oss/orchestration-core/shared/logger"
)

// SecretsManager resolves a named secret (an AWS ARN, a local key, or an
// env var prefix depending on the implementation) to its credential fields.
// The Configuration Store uses this to keep LLM provider credentials out of
// the `system_settings_config` table and config files it otherwise reads.
type SecretsManager interface {
	GetSecret(ctx context.Context, ref string) (map[string]string, error)
}

// AWSSecretsManager resolves secrets from AWS Secrets Manager, caching each
// value for CacheTTL to bound the number of live API calls during a burst
// of provider lookups.
type AWSSecretsManager struct {
	client *secretsmanager.Client
	cache  map[string]*secretCacheEntry
	mu     sync.RWMutex
	ttl    time.Duration
	log    *logger.Logger
}

type secretCacheEntry struct {
	value     map[string]string
	expiresAt time.Time
}

// AWSSecretsManagerOptions configures an AWSSecretsManager.
type AWSSecretsManagerOptions struct {
	Region   string
	CacheTTL time.Duration
	Logger   *logger.Logger
}

// NewAWSSecretsManager resolves AWS config via the default credential chain
// (IAM role, shared config, or env vars) and returns a manager for it.
func NewAWSSecretsManager(ctx context.Context, opts AWSSecretsManagerOptions) (*AWSSecretsManager, error) {
	log := opts.Logger
	if log == nil {
		log = logger.New("secrets-manager")
	}

	var cfgOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		cfgOpts = append(cfgOpts, awsconfig.WithRegion(opts.Region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, cfgOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	return &AWSSecretsManager{
		client: secretsmanager.NewFromConfig(cfg),
		cache:  make(map[string]*secretCacheEntry),
		ttl:    ttl,
		log:    log,
	}, nil
}

// GetSecret fetches ref (a Secrets Manager ARN or name), parsing its value
// as a JSON object of string fields. A plain-string secret is returned under
// the "value" key.
func (s *AWSSecretsManager) GetSecret(ctx context.Context, ref string) (map[string]string, error) {
	s.mu.RLock()
	entry, cached := s.cache[ref]
	s.mu.RUnlock()
	if cached && time.Now().Before(entry.expiresAt) {
		return entry.value, nil
	}

	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(ref)})
	if err != nil {
		return nil, fmt.Errorf("get secret %s: %w", maskRef(ref), err)
	}
	if out.SecretString == nil {
		return nil, fmt.Errorf("secret %s has no string value", maskRef(ref))
	}

	var fields map[string]string
	if err := json.Unmarshal([]byte(*out.SecretString), &fields); err != nil {
		fields = map[string]string{"value": *out.SecretString}
	}

	s.mu.Lock()
	s.cache[ref] = &secretCacheEntry{value: fields, expiresAt: time.Now().Add(s.ttl)}
	s.mu.Unlock()
	s.log.Debug("", "", "resolved secret", map[string]interface{}{"ref": maskRef(ref)})
	return fields, nil
}

// InvalidateAll clears the cache, forcing the next lookup to hit AWS.
func (s *AWSSecretsManager) InvalidateAll() {
	s.mu.Lock()
	s.cache = make(map[string]*secretCacheEntry)
	s.mu.Unlock()
}

func maskRef(ref string) string {
	if len(ref) <= 12 {
		return "***"
	}
	return "..." + ref[len(ref)-8:]
}

// EnvSecretsManager resolves a secret by treating ref as an env var prefix:
// ref="BEDROCK" looks for BEDROCK_ACCESS_KEY, BEDROCK_SECRET_KEY, etc. Used
// for self-hosted deployments without an AWS Secrets Manager subscription.
type EnvSecretsManager struct{}

// NewEnvSecretsManager returns an env-var-backed SecretsManager.
func NewEnvSecretsManager() *EnvSecretsManager { return &EnvSecretsManager{} }

var secretEnvFields = []string{
	"ACCESS_KEY", "SECRET_KEY", "API_KEY", "API_SECRET", "TOKEN",
}

func (s *EnvSecretsManager) GetSecret(ctx context.Context, ref string) (map[string]string, error) {
	fields := make(map[string]string)
	for _, name := range secretEnvFields {
		if v := os.Getenv(ref + "_" + name); v != "" {
			fields[strings.ToLower(name)] = v
		}
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("no credentials found for env prefix %s", ref)
	}
	return fields, nil
}
