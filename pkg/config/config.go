package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/clientops/replywatch/internal/calendar"
)

type Config struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
	Database DatabaseConfig `mapstructure:"database"`
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
}

type TelegramConfig struct {
	Token          string  `mapstructure:"token"`
	OwnerID        int64   `mapstructure:"owner_id"`
	ResponsibleIDs []int64 `mapstructure:"responsible_ids"`
}

type DatabaseConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	DBName      string `mapstructure:"dbname"`
	SSLMode     string `mapstructure:"sslmode"`
	UseInMemory bool   `mapstructure:"use_in_memory"`
}

// URL renders the connection string the pgx pool and River expect.
func (d DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(d.User), url.QueryEscape(d.Password),
		d.Host, d.Port, d.DBName, d.SSLMode)
}

type OpenAIConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

type ScheduleConfig struct {
	Timezone           string            `mapstructure:"timezone"`
	WorkStart          string            `mapstructure:"work_start"`
	WorkEnd            string            `mapstructure:"work_end"`
	EscalationDelays   []string          `mapstructure:"escalation_delays"`
	Holidays           map[string]string `mapstructure:"holidays"`
	InactivityCheckAt  string            `mapstructure:"inactivity_check_at"`
	HolidayGreetingsAt string            `mapstructure:"holiday_greetings_at"`
}

// Delays parses the escalation ladder into durations.
func (s ScheduleConfig) Delays() ([]time.Duration, error) {
	if len(s.EscalationDelays) == 0 {
		return nil, fmt.Errorf("escalation_delays is empty")
	}
	out := make([]time.Duration, 0, len(s.EscalationDelays))
	for _, raw := range s.EscalationDelays {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid escalation delay %q: %w", raw, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("escalation delay %q is not positive", raw)
		}
		out = append(out, d)
	}
	return out, nil
}

// Location loads the configured timezone.
func (s ScheduleConfig) Location() (*time.Location, error) {
	return time.LoadLocation(s.Timezone)
}

// HolidayTable parses the "MM-DD": name map into calendar keys. An empty
// map falls back to the built-in company calendar.
func (s ScheduleConfig) HolidayTable() (map[calendar.MonthDay]string, error) {
	holidays := s.Holidays
	if len(holidays) == 0 {
		holidays = defaultHolidays
	}

	out := make(map[calendar.MonthDay]string, len(holidays))
	for key, name := range holidays {
		var month, day int
		if _, err := fmt.Sscanf(key, "%d-%d", &month, &day); err != nil {
			return nil, fmt.Errorf("invalid holiday date %q: %w", key, err)
		}
		if month < 1 || month > 12 || day < 1 || day > 31 {
			return nil, fmt.Errorf("invalid holiday date %q", key)
		}
		out[calendar.MonthDay{Month: time.Month(month), Day: day}] = name
	}
	return out, nil
}

func parseDatabaseURL(dbURL string) (DatabaseConfig, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, err
	}

	password, _ := u.User.Password()
	port := 5432 // default PostgreSQL port
	if u.Port() != "" {
		fmt.Sscanf(u.Port(), "%d", &port)
	}

	dbName := strings.TrimPrefix(u.Path, "/")

	sslMode := u.Query().Get("sslmode")
	if sslMode == "" {
		sslMode = "disable"
	}

	return DatabaseConfig{
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   dbName,
		SSLMode:  sslMode,
	}, nil
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("database.port", 5432)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.use_in_memory", false)
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.max_tokens", 500)
	v.SetDefault("openai.temperature", 0.7)
	v.SetDefault("schedule.timezone", "Europe/Moscow")
	v.SetDefault("schedule.work_start", "10:00")
	v.SetDefault("schedule.work_end", "19:00")
	v.SetDefault("schedule.escalation_delays", []string{"15m", "30m", "1h"})
	v.SetDefault("schedule.inactivity_check_at", "12:00")
	v.SetDefault("schedule.holiday_greetings_at", "09:00")

	v.AutomaticEnv()

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if dbURL := v.GetString("DATABASE_URL"); dbURL != "" {
		dbConfig, err := parseDatabaseURL(dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
		}
		dbConfig.UseInMemory = config.Database.UseInMemory
		config.Database = dbConfig
	}

	if token := v.GetString("TELEGRAM_TOKEN"); token != "" {
		config.Telegram.Token = token
	}

	if apiKey := v.GetString("OPENAI_API_KEY"); apiKey != "" {
		config.OpenAI.APIKey = apiKey
	}

	return &config, nil
}

// Validate reports every missing required setting at once. Configuration
// errors are fatal at startup only.
func (c *Config) Validate() error {
	var errs []string

	if c.Telegram.Token == "" {
		errs = append(errs, "telegram token not set")
	}
	if c.Telegram.OwnerID == 0 {
		errs = append(errs, "telegram owner_id not set")
	}
	if c.OpenAI.APIKey == "" {
		errs = append(errs, "openai api_key not set")
	}
	if !c.Database.UseInMemory && c.Database.DBName == "" {
		errs = append(errs, "database dbname not set")
	}
	if _, err := c.Schedule.Delays(); err != nil {
		errs = append(errs, err.Error())
	}
	if _, err := c.Schedule.Location(); err != nil {
		errs = append(errs, fmt.Sprintf("invalid timezone %q", c.Schedule.Timezone))
	}
	if _, err := c.Schedule.HolidayTable(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, ", "))
	}
	return nil
}

// defaultHolidays is the company calendar the schedule ships with.
var defaultHolidays = map[string]string{
	"01-01": "New Year",
	"01-02": "New Year holidays",
	"01-03": "New Year holidays",
	"01-04": "New Year holidays",
	"01-05": "New Year holidays",
	"01-06": "New Year holidays",
	"01-07": "Christmas",
	"01-08": "New Year holidays",
	"02-14": "Valentine's Day",
	"02-23": "Defender of the Fatherland Day",
	"03-08": "International Women's Day",
	"05-01": "Spring and Labour Day",
	"05-09": "Victory Day",
	"06-12": "Russia Day",
	"11-04": "Unity Day",
	"12-31": "New Year's Eve",
}
