package tmrequest

import (
	"context"

	"github.com/ilyakaznacheev/cleanenv"
)

// Default setting values.
const (
	DefaultSolutionField     = "customerid"
	DefaultMissingSolutionID = "Missing solution id"
)

// Setting names used by persisted and environment settings.
const (
	SettingSystemRole        = "systemrole"
	SettingUsersetRole       = "usersetrole"
	SettingSolutionField     = "solutionfield"
	SettingAdminUser         = "adminuser"
	SettingSubject           = "subject"
	SettingBody              = "body"
	SettingMissingSolutionID = "missingsolutionid"
)

// Settings is a snapshot of the configuration.
// An empty role id means the role is not configured.
type Settings struct {
	SystemRoleID        string
	UsersetRoleID       string
	SolutionField       string
	AdminUsername       string
	NotificationSubject string
	NotificationBody    string
	MissingSolutionID   string
}

// WithDefaults fills empty optional fields with their defaults.
func (s Settings) WithDefaults() Settings {
	if s.SolutionField == "" {
		s.SolutionField = DefaultSolutionField
	}
	if s.MissingSolutionID == "" {
		s.MissingSolutionID = DefaultMissingSolutionID
	}
	return s
}

// settingsFromMap builds Settings from named values.
func settingsFromMap(values map[string]string) Settings {
	return Settings{
		SystemRoleID:        values[SettingSystemRole],
		UsersetRoleID:       values[SettingUsersetRole],
		SolutionField:       values[SettingSolutionField],
		AdminUsername:       values[SettingAdminUser],
		NotificationSubject: values[SettingSubject],
		NotificationBody:    values[SettingBody],
		MissingSolutionID:   values[SettingMissingSolutionID],
	}
}

// StaticSettings is a SettingsProvider that always returns the same snapshot.
type StaticSettings Settings

// Settings implements SettingsProvider.
func (s StaticSettings) Settings(context.Context) (Settings, error) {
	return Settings(s).WithDefaults(), nil
}

// envSettings mirrors Settings for cleanenv.
type envSettings struct {
	SystemRoleID        string `env:"TM_SYSTEM_ROLE" env-description:"system-scope role id"`
	UsersetRoleID       string `env:"TM_USERSET_ROLE" env-description:"userset-scope role id"`
	SolutionField       string `env:"TM_SOLUTION_FIELD" env-default:"customerid"`
	AdminUsername       string `env:"TM_ADMIN_USER"`
	NotificationSubject string `env:"TM_NOTIFICATION_SUBJECT"`
	NotificationBody    string `env:"TM_NOTIFICATION_BODY"`
	MissingSolutionID   string `env:"TM_MISSING_SOLUTION_ID" env-default:"Missing solution id"`
}

// EnvSettings reads settings from the process environment on every call.
type EnvSettings struct{}

// Settings implements SettingsProvider.
func (EnvSettings) Settings(context.Context) (Settings, error) {
	var e envSettings
	if err := cleanenv.ReadEnv(&e); err != nil {
		return Settings{}, err
	}
	return Settings{
		SystemRoleID:        e.SystemRoleID,
		UsersetRoleID:       e.UsersetRoleID,
		SolutionField:       e.SolutionField,
		AdminUsername:       e.AdminUsername,
		NotificationSubject: e.NotificationSubject,
		NotificationBody:    e.NotificationBody,
		MissingSolutionID:   e.MissingSolutionID,
	}.WithDefaults(), nil
}
