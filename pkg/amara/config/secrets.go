package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/zalando/go-keyring"
)

// KeyringService is the service name used in the OS keyring.
const KeyringService = "amara"

// Secret key names shared by the keyring, SSM and the setup wizard.
const (
	SecretLLMKey        = "llm_api_key"
	SecretTTSKey        = "tts_api_key"
	SecretTTSOpenAIKey  = "tts_openai_api_key"
	SecretTelegramToken = "telegram_token"
	SecretDiscordToken  = "discord_token"
)

// ParamGetter reads one parameter by name.
type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// ssmAPI is the part of *ssm.Client the parameter store uses.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// ParamStore reads SecureString parameters from AWS SSM.
type ParamStore struct {
	api ssmAPI
}

// NewParamStore wraps an SSM client.
func NewParamStore(api ssmAPI) (*ParamStore, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	return &ParamStore{api: api}, nil
}

// NewSSMParamStore builds a parameter store from the default AWS
// credential chain.
func NewSSMParamStore(ctx context.Context, region string) (*ParamStore, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("paramstore: loading AWS config: %w", err)
	}
	return NewParamStore(ssm.NewFromConfig(awsCfg))
}

// GetParameter returns the decrypted value of name.
func (p *ParamStore) GetParameter(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("paramstore: name is required")
	}

	out, err := p.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("paramstore: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", errors.New("paramstore: parameter missing value")
	}
	return *out.Parameter.Value, nil
}

// StoreKeyring saves a secret to the OS keyring.
func StoreKeyring(key, value string) error {
	return keyring.Set(KeyringService, key, value)
}

// GetKeyring retrieves a secret from the OS keyring, or "" when absent.
func GetKeyring(key string) string {
	val, err := keyring.Get(KeyringService, key)
	if err != nil {
		return ""
	}
	return val
}

// SecretResolver fills empty credentials. Priority per secret:
//  1. config.yaml value (after ${VAR} expansion)
//  2. environment variables
//  3. OS keyring
//  4. AWS SSM Parameter Store under the configured prefix
type SecretResolver struct {
	keyring func(key string) string
	params  ParamGetter
	prefix  string
	logger  *slog.Logger
}

// NewSecretResolver creates a resolver. params may be nil.
func NewSecretResolver(cfg SecretsConfig, params ParamGetter, logger *slog.Logger) *SecretResolver {
	if logger == nil {
		logger = slog.Default()
	}
	r := &SecretResolver{params: params, prefix: cfg.SSMPrefix, logger: logger.With("component", "secrets")}
	if cfg.Keyring {
		r.keyring = GetKeyring
	}
	return r
}

type secretField struct {
	key   string
	envs  []string
	dst   *string
	label string
}

// Resolve fills every credential in cfg that is still empty. The ones the
// selected channel and providers need are reported as missing.
func (r *SecretResolver) Resolve(ctx context.Context, cfg *Config) error {
	fields := []secretField{
		{SecretLLMKey, []string{"AMARA_LLM_API_KEY", "OPENAI_API_KEY"}, &cfg.LLM.APIKey, "llm.api_key"},
		{SecretTTSKey, []string{"AMARA_TTS_API_KEY", "ELEVENLABS_API_KEY"}, &cfg.TTS.APIKey, "tts.api_key"},
		{SecretTTSOpenAIKey, []string{"AMARA_TTS_OPENAI_API_KEY", "OPENAI_API_KEY"}, &cfg.TTS.OpenAIAPIKey, "tts.openai_api_key"},
		{SecretTelegramToken, []string{"AMARA_TELEGRAM_TOKEN", "TELEGRAM_BOT_TOKEN"}, &cfg.Telegram.Token, "telegram.token"},
		{SecretDiscordToken, []string{"AMARA_DISCORD_TOKEN", "DISCORD_BOT_TOKEN"}, &cfg.Discord.Token, "discord.token"},
	}

	for _, f := range fields {
		if IsEnvReference(*f.dst) {
			*f.dst = ""
		}
		if *f.dst != "" {
			continue
		}
		*f.dst = r.lookup(ctx, f.key, f.envs)
	}

	var missing []string
	switch cfg.Channel {
	case ChannelTelegram:
		if cfg.Telegram.Token == "" {
			missing = append(missing, "telegram.token")
		}
	case ChannelDiscord:
		if cfg.Discord.Token == "" {
			missing = append(missing, "discord.token")
		}
	}
	if cfg.LLM.APIKey == "" {
		missing = append(missing, "llm.api_key")
	}
	if len(missing) > 0 {
		return fmt.Errorf("secrets: missing %s", strings.Join(missing, ", "))
	}
	return nil
}

func (r *SecretResolver) lookup(ctx context.Context, key string, envs []string) string {
	for _, env := range envs {
		if v := os.Getenv(env); v != "" {
			r.logger.Debug("secret loaded from environment", "key", key, "env", env)
			return v
		}
	}
	if r.keyring != nil {
		if v := r.keyring(key); v != "" {
			r.logger.Debug("secret loaded from OS keyring", "key", key)
			return v
		}
	}
	if r.params != nil && r.prefix != "" {
		name := strings.TrimSuffix(r.prefix, "/") + "/" + key
		v, err := r.params.GetParameter(ctx, name)
		if err != nil {
			r.logger.Debug("secret not found in parameter store", "key", key, "error", err)
			return ""
		}
		r.logger.Debug("secret loaded from parameter store", "key", key)
		return v
	}
	return ""
}
