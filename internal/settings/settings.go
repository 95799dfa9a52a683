// Package settings holds per-shop recovery configuration.
package settings

import "time"

const (
	DefaultThresholdMinutes = 60
	DefaultSMTPPort         = 587
	DefaultSubject          = "You left something in your cart"
)

// Settings configures abandonment detection and recovery e-mail for one shop.
// SMTPPassSecretID, when set, names a Secrets Manager secret that takes
// precedence over SMTPPass.
type Settings struct {
	Shop                  string `json:"shop" dynamodbav:"shop"`
	AbandonedThresholdMin int    `json:"abandonedThresholdMinutes" dynamodbav:"abandoned_threshold_min"`
	EmailEnabled          bool   `json:"emailEnabled" dynamodbav:"email_enabled"`
	EmailFrom             string `json:"emailFrom,omitempty" dynamodbav:"email_from,omitempty"`
	EmailSubject          string `json:"emailSubject,omitempty" dynamodbav:"email_subject,omitempty"`
	EmailBody             string `json:"emailBody,omitempty" dynamodbav:"email_body,omitempty"`
	SMTPHost              string `json:"smtpHost,omitempty" dynamodbav:"smtp_host,omitempty"`
	SMTPPort              int    `json:"smtpPort,omitempty" dynamodbav:"smtp_port,omitempty"`
	SMTPUser              string `json:"smtpUser,omitempty" dynamodbav:"smtp_user,omitempty"`
	SMTPPass              string `json:"smtpPass,omitempty" dynamodbav:"smtp_pass,omitempty"`
	SMTPPassSecretID      string `json:"smtpPassSecretId,omitempty" dynamodbav:"smtp_pass_secret_id,omitempty"`
}

// Defaults returns the settings of a shop that never saved any.
func Defaults(shop string) Settings {
	return Settings{
		Shop:                  shop,
		AbandonedThresholdMin: DefaultThresholdMinutes,
		EmailSubject:          DefaultSubject,
		SMTPPort:              DefaultSMTPPort,
	}
}

// WithDefaults fills unset fields.
func (s Settings) WithDefaults() Settings {
	if s.AbandonedThresholdMin <= 0 {
		s.AbandonedThresholdMin = DefaultThresholdMinutes
	}
	if s.EmailSubject == "" {
		s.EmailSubject = DefaultSubject
	}
	if s.SMTPPort <= 0 {
		s.SMTPPort = DefaultSMTPPort
	}
	return s
}

// Threshold is how long an active cart may go without an update before it
// is considered abandoned.
func (s Settings) Threshold() time.Duration {
	m := s.AbandonedThresholdMin
	if m <= 0 {
		m = DefaultThresholdMinutes
	}
	return time.Duration(m) * time.Minute
}

// Masked hides the SMTP password for display.
func (s Settings) Masked() Settings {
	if s.SMTPPass != "" {
		s.SMTPPass = "********"
	}
	return s
}
