package mailer

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

type tmpl struct {
	subject *template.Template
	body    *template.Template
}

var templates = map[string]tmpl{
	"otp_deposit": parse("otp_deposit",
		"Your deposit verification code",
		`Hi {{or .name "there"}},

Use the code below to confirm your deposit of {{.amount}} {{.currency}} via {{.method}}:

    {{.code}}

The code expires in {{.minutes}} minutes. If you did not request this deposit, ignore this email.
`),
	"otp_withdrawal": parse("otp_withdrawal",
		"Your withdrawal verification code",
		`Hi {{or .name "there"}},

Use the code below to confirm your withdrawal of {{.amount}} {{.currency}} to your {{.method}} account:

    {{.code}}

The code expires in {{.minutes}} minutes. If you did not request this withdrawal, secure your account now.
`),
	"otp_payment": parse("otp_payment",
		`Confirm your payment{{with .order_title}} for "{{.}}"{{end}}`,
		`Hi {{or .name "there"}},

Use the code below to pay {{.amount}} {{.currency}}{{with .order_title}} for "{{.}}"{{end}} from your wallet:

    {{.code}}

The code expires in {{.minutes}} minutes.
`),
}

func parse(name, subject, body string) tmpl {
	return tmpl{
		subject: template.Must(template.New(name + ".subject").Option("missingkey=zero").Parse(subject)),
		body:    template.Must(template.New(name + ".body").Option("missingkey=zero").Parse(body)),
	}
}

// Render produces the subject and plain-text body for a named template.
func Render(name string, data map[string]any) (subject, body string, err error) {
	t, ok := templates[name]
	if !ok {
		return "", "", fmt.Errorf("unknown email template %q", name)
	}
	var sb, bb bytes.Buffer
	if err := t.subject.Execute(&sb, data); err != nil {
		return "", "", fmt.Errorf("render %s subject: %w", name, err)
	}
	if err := t.body.Execute(&bb, data); err != nil {
		return "", "", fmt.Errorf("render %s body: %w", name, err)
	}
	return strings.TrimSpace(sb.String()), bb.String(), nil
}

func Known(name string) bool {
	_, ok := templates[name]
	return ok
}
