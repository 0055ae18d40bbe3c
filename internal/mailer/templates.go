package mailer

import (
	"fmt"
	"html"
)

const (
	SubjectVerifyEmail   = "Verify your email"
	SubjectPasswordReset = "Reset your password"
)

func VerificationBody(domain, token string) string {
	link := fmt.Sprintf("http://%s/api/v1/auth/verify/%s", domain, token)
	return fmt.Sprintf(`<h1>Verify your email</h1>
<p>Please click this <a href="%s">link</a> to verify your email</p>`, html.EscapeString(link))
}

func PasswordResetBody(domain, token string) string {
	link := fmt.Sprintf("http://%s/api/v1/auth/password-reset-confirm/%s", domain, token)
	return fmt.Sprintf(`<h1>Reset your password</h1>
<p>Please click this <a href="%s">link</a> to reset your password</p>`, html.EscapeString(link))
}
