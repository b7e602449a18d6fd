package config

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

const (
	StorageFile     = "file"
	StoragePostgres = "postgres"
)

type Config struct {
	Port            int
	LogLevel        string
	LogFormat       string
	Timezone        string
	StorageDriver   string
	DataDir         string
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	DB              Database
	Notify          Notify
	Jobs            Jobs
	Google          Google
	Keyring         Keyring
}

type Database struct {
	Host     string
	Port     string
	Username string
	Password string
	Name     string
	Schema   string
}

// DSN builds a postgres URL for the pgx-backed gorm driver.
func (d Database) DSN() string {
	q := url.Values{}
	q.Set("sslmode", "disable")
	if d.Schema != "" {
		q.Set("search_path", d.Schema)
	}
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.Username, d.Password),
		Host:     net.JoinHostPort(d.Host, d.Port),
		Path:     d.Name,
		RawQuery: q.Encode(),
	}
	return u.String()
}

type Notify struct {
	GraceWindow                time.Duration
	DefaultNotificationMinutes int
	FirebaseCredentialsFile    string
}

type Jobs struct {
	BackupSchedule     string
	GoogleSyncSchedule string
	Timeout            time.Duration
}

type Google struct {
	ClientID     string
	ClientSecret string
	CalendarID   string
	MaxResults   int64
}

type Keyring struct {
	Backend  string
	Dir      string
	Password string
}

// Location resolves Timezone. "Local" and "" mean the process zone.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid APP_TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func (c Config) ParseLogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Port)
	}
	switch c.StorageDriver {
	case StorageFile:
		if c.DataDir == "" {
			return fmt.Errorf("DATA_DIR is required when STORAGE_DRIVER=file")
		}
	case StoragePostgres:
		if c.DB.Host == "" || c.DB.Name == "" {
			return fmt.Errorf("BLUEPRINT_DB_HOST and BLUEPRINT_DB_DATABASE are required when STORAGE_DRIVER=postgres")
		}
		if _, err := strconv.Atoi(c.DB.Port); err != nil {
			return fmt.Errorf("invalid BLUEPRINT_DB_PORT %q: %w", c.DB.Port, err)
		}
	default:
		return fmt.Errorf("invalid STORAGE_DRIVER %q: must be one of file, postgres", c.StorageDriver)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Notify.GraceWindow < 0 {
		return fmt.Errorf("NOTIFY_GRACE_WINDOW must not be negative")
	}
	if c.Notify.DefaultNotificationMinutes < 0 {
		return fmt.Errorf("DEFAULT_NOTIFICATION_MINUTES must not be negative")
	}
	for key, spec := range map[string]string{
		"BACKUP_SCHEDULE":      c.Jobs.BackupSchedule,
		"GOOGLE_SYNC_SCHEDULE": c.Jobs.GoogleSyncSchedule,
	} {
		if spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, spec, err)
		}
	}
	if c.Google.MaxResults <= 0 || c.Google.MaxResults > 2500 {
		return fmt.Errorf("GOOGLE_MAX_RESULTS must be between 1 and 2500")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("app_timezone", "Local")
	v.SetDefault("storage_driver", StorageFile)
	v.SetDefault("data_dir", "data")
	v.SetDefault("shutdown_timeout", 5*time.Second)
	v.SetDefault("cors_allowed_origins", "https://*,http://*")

	v.SetDefault("blueprint_db_host", "localhost")
	v.SetDefault("blueprint_db_port", "5432")
	v.SetDefault("blueprint_db_username", "")
	v.SetDefault("blueprint_db_password", "")
	v.SetDefault("blueprint_db_database", "")
	v.SetDefault("blueprint_db_schema", "")

	v.SetDefault("notify_grace_window", time.Minute)
	v.SetDefault("default_notification_minutes", 15)
	v.SetDefault("firebase_credentials_file", "")

	v.SetDefault("backup_schedule", "")
	v.SetDefault("google_sync_schedule", "")
	v.SetDefault("job_timeout", 2*time.Minute)

	v.SetDefault("google_client_id", "")
	v.SetDefault("google_client_secret", "")
	v.SetDefault("google_calendar_id", "primary")
	v.SetDefault("google_max_results", 100)

	v.SetDefault("keyring_backend", "file")
	v.SetDefault("keyring_dir", "")
	v.SetDefault("keyring_password", "calendar-todo")
}

// Load reads configuration from the environment and, when CONFIG_FILE is set,
// from that YAML file. Environment variables win over file values.
func Load() (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path := v.GetString("config_file"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	dataDir := v.GetString("data_dir")
	keyringDir := v.GetString("keyring_dir")
	if keyringDir == "" {
		keyringDir = filepath.Join(dataDir, "credentials")
	}

	return Config{
		Port:            v.GetInt("port"),
		LogLevel:        v.GetString("log_level"),
		LogFormat:       v.GetString("log_format"),
		Timezone:        v.GetString("app_timezone"),
		StorageDriver:   strings.ToLower(v.GetString("storage_driver")),
		DataDir:         dataDir,
		ShutdownTimeout: v.GetDuration("shutdown_timeout"),
		CORSOrigins:     splitList(v.GetString("cors_allowed_origins")),
		DB: Database{
			Host:     v.GetString("blueprint_db_host"),
			Port:     v.GetString("blueprint_db_port"),
			Username: v.GetString("blueprint_db_username"),
			Password: v.GetString("blueprint_db_password"),
			Name:     v.GetString("blueprint_db_database"),
			Schema:   v.GetString("blueprint_db_schema"),
		},
		Notify: Notify{
			GraceWindow:                v.GetDuration("notify_grace_window"),
			DefaultNotificationMinutes: v.GetInt("default_notification_minutes"),
			FirebaseCredentialsFile:    v.GetString("firebase_credentials_file"),
		},
		Jobs: Jobs{
			BackupSchedule:     v.GetString("backup_schedule"),
			GoogleSyncSchedule: v.GetString("google_sync_schedule"),
			Timeout:            v.GetDuration("job_timeout"),
		},
		Google: Google{
			ClientID:     v.GetString("google_client_id"),
			ClientSecret: v.GetString("google_client_secret"),
			CalendarID:   v.GetString("google_calendar_id"),
			MaxResults:   v.GetInt64("google_max_results"),
		},
		Keyring: Keyring{
			Backend:  v.GetString("keyring_backend"),
			Dir:      keyringDir,
			Password: v.GetString("keyring_password"),
		},
	}, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
