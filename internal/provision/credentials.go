package provision

import (
	"context"
	"fmt"
	"os"
)

// Credential is a single named secret value and where it came from.
type Credential struct {
	Key    string
	Value  string
	Source string
}

// oauthTokenEnvVar is the only credential this domain's agent CLI needs —
// the captured setup token written to <tenant>/.env (§4.4).
const oauthTokenEnvVar = "CLAUDE_CODE_OAUTH_TOKEN"

// EnvProvider resolves the agent's OAuth token from the environment,
// trimmed from the teacher's broad multi-vendor API-key scanner down to
// the single credential this domain's agent CLI actually consumes.
type EnvProvider struct {
	prefix string
}

// NewEnvProvider creates a new environment provider with an optional
// lookup-key prefix.
func NewEnvProvider(prefix string) *EnvProvider {
	return &EnvProvider{prefix: prefix}
}

func (p *EnvProvider) Name() string { return "environment" }

// GetCredential retrieves oauthTokenEnvVar from the environment, trying the
// prefixed form first so per-tenant process environments can be scoped.
func (p *EnvProvider) GetCredential(ctx context.Context) (*Credential, error) {
	if p.prefix != "" {
		if v := os.Getenv(p.prefix + oauthTokenEnvVar); v != "" {
			return &Credential{Key: oauthTokenEnvVar, Value: v, Source: "environment"}, nil
		}
	}
	if v := os.Getenv(oauthTokenEnvVar); v != "" {
		return &Credential{Key: oauthTokenEnvVar, Value: v, Source: "environment"}, nil
	}
	return nil, fmt.Errorf("credential not found: %s", oauthTokenEnvVar)
}
