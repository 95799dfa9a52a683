package validation

import (
	"html/template"

	validatorv10 "github.com/go-playground/validator/v10"
)

// New returns a configured validator with the struct-level rules registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// e-mail delivery needs a sender and a server; an override body must
	// parse as a template
	v.RegisterStructValidation(settingsStructValidation, SettingsRequest{})

	return v
}

func settingsStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(SettingsRequest)

	if req.EmailEnabled {
		if req.EmailFrom == "" {
			sl.ReportError(req.EmailFrom, "emailFrom", "EmailFrom", "required_when_email_enabled", "")
		}
		if req.SMTPHost == "" {
			sl.ReportError(req.SMTPHost, "smtpHost", "SMTPHost", "required_when_email_enabled", "")
		}
	}
	if req.EmailBody != "" {
		if _, err := template.New("body").Parse(req.EmailBody); err != nil {
			sl.ReportError(req.EmailBody, "emailBody", "EmailBody", "template", err.Error())
		}
	}
}
