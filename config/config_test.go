package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sample = `
database:
  host: "localhost"
  port: 5432
  username: "u"
  password: "p"
  name: "db"
kafka:
  host: "localhost"
  port: 9092
  tasks_topic_name: "fulfillbox.tasks"
redis:
  host: "localhost"
  port: 6379
fulfillbox:
  http_addr: ":8080"
  kafka_consumer_group: "fulfill-worker"
  log_level: "debug"
  note_limit: 5000
  worker_budget_seconds: 240
storefronts:
  - platform: "shopify"
    kind: "restv1"
    base_url: "http://localhost:9100"
    token: "t"
  - platform: "demo"
    kind: "fake"
suppliers:
  - type: "aliexpress"
    kind: "restv1"
    base_url: "http://localhost:9000"
    api_key: "k"
    rate_limit_per_minute: 60
  - type: "feed"
    kind: "eventfeed"
    base_url: "http://localhost:9001"
    domain: "shop.example"
status_translations:
  aliexpress:
    WAIT_SELLER_SEND_GOODS: "ORDERED"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sample))
	require.NoError(t, err)
	require.Equal(t, "u", cfg.Database.Username)
	require.Equal(t, "postgres://u:p@localhost:5432/db?sslmode=disable", cfg.Database.ConnString())
	require.Equal(t, "fulfillbox.tasks", cfg.Kafka.TasksTopicName)
	require.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers())
	require.Equal(t, "localhost:6379", cfg.Redis.Addr())
	require.Equal(t, ":8080", cfg.FulfillBox.HTTPAddr)
	require.Equal(t, 240, cfg.FulfillBox.WorkerBudgetSeconds)
	require.Len(t, cfg.Storefronts, 2)
	require.Equal(t, "fake", cfg.Storefronts[1].Kind)
	require.Equal(t, 60, cfg.Suppliers[0].RateLimitPerMinute)
	require.Equal(t, "shop.example", cfg.Suppliers[1].Domain)
	require.Equal(t, "ORDERED", cfg.StatusTranslations["aliexpress"]["WAIT_SELLER_SEND_GOODS"])
	require.Equal(t, slog.LevelDebug, cfg.FulfillBox.SlogLevel())
}

func TestSeconds(t *testing.T) {
	require.Equal(t, time.Minute, Seconds(0, time.Minute))
	require.Equal(t, time.Minute, Seconds(-3, time.Minute))
	require.Equal(t, 5*time.Second, Seconds(5, time.Minute))
	require.Equal(t, slog.LevelInfo, FulfillBoxConfig{}.SlogLevel())
}

func TestLoadConfig_Invalid(t *testing.T) {
	cases := map[string]string{
		"missing db host":    "database:\n  port: 5432\n  name: db\nkafka: {host: k, port: 1}\nredis: {host: r, port: 1}\n",
		"bad port":           "database: {host: h, port: 70000, name: db}\nkafka: {host: k, port: 1}\nredis: {host: r, port: 1}\n",
		"unknown kind":       "database: {host: h, port: 1, name: db}\nkafka: {host: k, port: 1}\nredis: {host: r, port: 1}\nsuppliers: [{type: x, kind: soap}]\n",
		"bad log level":      "database: {host: h, port: 1, name: db}\nkafka: {host: k, port: 1}\nredis: {host: r, port: 1}\nfulfillbox: {log_level: loud}\n",
		"duplicate supplier": "database: {host: h, port: 1, name: db}\nkafka: {host: k, port: 1}\nredis: {host: r, port: 1}\nsuppliers: [{type: x, kind: fake}, {type: x, kind: fake}]\n",
		"ordered window":     "database: {host: h, port: 1, name: db}\nkafka: {host: k, port: 1}\nredis: {host: r, port: 1}\nfulfillbox: {worker_next_check_ordered_min_seconds: 60, worker_next_check_ordered_max_seconds: 30}\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, body))
			require.Error(t, err)
			require.Contains(t, err.Error(), "invalid config")
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
