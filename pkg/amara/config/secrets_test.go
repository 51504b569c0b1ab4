package config

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

type fakeSSM struct {
	values map[string]string
	names  []string
}

func (f *fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	name := aws.ToString(in.Name)
	f.names = append(f.names, name)
	v, ok := f.values[name]
	if !ok {
		return nil, &types.ParameterNotFound{}
	}
	return &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: in.Name, Value: aws.String(v)}}, nil
}

func TestParamStore(t *testing.T) {
	t.Parallel()

	api := &fakeSSM{values: map[string]string{"/amara/llm_api_key": "sk-ssm"}}
	ps, err := NewParamStore(api)
	require.NoError(t, err)

	v, err := ps.GetParameter(context.Background(), " /amara/llm_api_key ")
	require.NoError(t, err)
	require.Equal(t, "sk-ssm", v)

	_, err = ps.GetParameter(context.Background(), "/amara/missing")
	var notFound *types.ParameterNotFound
	require.True(t, errors.As(err, &notFound))

	_, err = ps.GetParameter(context.Background(), "  ")
	require.ErrorContains(t, err, "required")

	_, err = NewParamStore(nil)
	require.Error(t, err)
}

func clearSecretEnv(t *testing.T) {
	t.Helper()
	for _, env := range []string{
		"AMARA_LLM_API_KEY", "OPENAI_API_KEY",
		"AMARA_TTS_API_KEY", "ELEVENLABS_API_KEY",
		"AMARA_TTS_OPENAI_API_KEY",
		"AMARA_TELEGRAM_TOKEN", "TELEGRAM_BOT_TOKEN",
		"AMARA_DISCORD_TOKEN", "DISCORD_BOT_TOKEN",
	} {
		t.Setenv(env, "")
	}
}

func TestResolvePriority(t *testing.T) {
	clearSecretEnv(t)
	t.Setenv("TELEGRAM_BOT_TOKEN", "tg-env")

	api := &fakeSSM{values: map[string]string{
		"/amara/prod/llm_api_key":    "sk-ssm",
		"/amara/prod/tts_api_key":    "el-ssm",
		"/amara/prod/telegram_token": "tg-ssm",
	}}
	ps, err := NewParamStore(api)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.TTS.APIKey = "el-config"
	cfg.LLM.APIKey = "${AMARA_UNEXPANDED}"

	r := NewSecretResolver(SecretsConfig{SSMPrefix: "/amara/prod/"}, ps, nil)
	require.NoError(t, r.Resolve(context.Background(), cfg))

	require.Equal(t, "el-config", cfg.TTS.APIKey, "config value wins")
	require.Equal(t, "tg-env", cfg.Telegram.Token, "environment beats SSM")
	require.Equal(t, "sk-ssm", cfg.LLM.APIKey, "placeholder falls through to SSM")
	require.Contains(t, api.names, "/amara/prod/llm_api_key")
	require.NotContains(t, api.names, "/amara/prod/telegram_token")
}

func TestResolveFromKeyring(t *testing.T) {
	clearSecretEnv(t)
	keyring.MockInit()
	require.NoError(t, StoreKeyring(SecretLLMKey, "sk-keyring"))
	require.NoError(t, StoreKeyring(SecretDiscordToken, "dc-keyring"))

	cfg := DefaultConfig()
	cfg.Channel = ChannelDiscord

	r := NewSecretResolver(SecretsConfig{Keyring: true}, nil, nil)
	require.NoError(t, r.Resolve(context.Background(), cfg))
	require.Equal(t, "sk-keyring", cfg.LLM.APIKey)
	require.Equal(t, "dc-keyring", cfg.Discord.Token)
	require.Equal(t, "sk-keyring", GetKeyring(SecretLLMKey))
}

func TestResolveReportsMissing(t *testing.T) {
	clearSecretEnv(t)

	cfg := DefaultConfig()
	r := NewSecretResolver(SecretsConfig{}, nil, nil)
	err := r.Resolve(context.Background(), cfg)
	require.ErrorContains(t, err, "telegram.token")
	require.ErrorContains(t, err, "llm.api_key")
}
