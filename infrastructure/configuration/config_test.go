package configuration

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplyDefaults(t *testing.T) {
	var c Config
	applyDefaults(&c)

	require.Equal(t, 10001, c.App.Port)
	require.Equal(t, 3, c.Publish.MaxAttempts)
	require.Equal(t, 5, c.Publish.BaseDelaySeconds)
	require.Equal(t, 300, c.Publish.LeaseTTLSeconds)
	require.Equal(t, LockBackendMemory, c.Publish.LockBackend)
	require.Equal(t, AuditBackendNone, c.Publish.AuditBackend)
	require.Equal(t, "campaign_content", c.Directus.Collection)
	require.Equal(t, "5.131", c.VK.APIVersion)
	require.Equal(t, "https://graph.facebook.com/v20.0", c.Instagram.BaseURL)
	require.Equal(t, 2000, c.Instagram.ContainerDelayMs)
	require.Equal(t, 60, c.Scheduler.IntervalSeconds)
}

func TestApplyDefaultsKeepsConfiguredValues(t *testing.T) {
	c := Config{Publish: Publish{MaxAttempts: 5, LockBackend: LockBackendRedis}}
	applyDefaults(&c)

	require.Equal(t, 5, c.Publish.MaxAttempts)
	require.Equal(t, LockBackendRedis, c.Publish.LockBackend)
}

func TestInitPlatformsReadsEnvironment(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "bot-token")
	t.Setenv("VK_GROUP_ID", "12345")

	c := Config{VK: VK{GroupID: "from-file"}}
	initPlatforms(&c)

	require.Equal(t, "bot-token", c.Telegram.BotToken)
	require.Equal(t, "from-file", c.VK.GroupID, "config file value wins over env")
}

func TestLoadEnvFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.env")
	content := "# comment\n\nSMM_TEST_A=one\nexport SMM_TEST_B=\"two\"\nSMM_TEST_C=three\nbroken-line\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("SMM_TEST_C", "preset")
	os.Unsetenv("SMM_TEST_A")
	os.Unsetenv("SMM_TEST_B")
	t.Cleanup(func() {
		os.Unsetenv("SMM_TEST_A")
		os.Unsetenv("SMM_TEST_B")
	})

	LoadEnvFromFile(filepath.Join(dir, "missing.env"), path)

	require.Equal(t, "one", os.Getenv("SMM_TEST_A"))
	require.Equal(t, "two", os.Getenv("SMM_TEST_B"))
	require.Equal(t, "preset", os.Getenv("SMM_TEST_C"))
}
