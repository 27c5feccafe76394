package email

import (
	"bytes"
	"fmt"
	"html/template"
)

var welcomeTemplate = template.Must(template.New("welcome").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Welcome to selfscope</title>
</head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; margin: 0; padding: 0; background-color: #f5f5f5;">
<table role="presentation" style="width: 100%; border: 0; cellpadding: 0; cellspacing: 0;">
<tr><td style="padding: 40px 0; text-align: center;">
<table role="presentation" style="max-width: 480px; margin: 0 auto; background: #ffffff; border-radius: 8px; overflow: hidden; box-shadow: 0 1px 3px rgba(0,0,0,0.1);">
<tr><td style="padding: 32px 40px; text-align: center;">
<h1 style="margin: 0 0 16px; font-size: 24px; color: #1a1a1a;">Welcome to selfscope</h1>
<p style="margin: 0 0 24px; color: #666; font-size: 15px; line-height: 1.5;">
Thanks for signing up. Connect your Hacker News handle or personal website and selfscope will start building your picture.
</p>
<a href="{{.SourcesURL}}" style="display: inline-block; padding: 12px 32px; background: #2563eb; color: #ffffff; text-decoration: none; border-radius: 6px; font-size: 15px; font-weight: 500;">
Add Your Sources
</a>
</td></tr>
</table>
</td></tr>
</table>
</body>
</html>`))

// WelcomeData holds template data for the welcome email.
type WelcomeData struct {
	SourcesURL string
}

// RenderWelcomeEmail renders the signup welcome email.
func RenderWelcomeEmail(data WelcomeData) (html, text string, err error) {
	var buf bytes.Buffer
	if err := welcomeTemplate.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("render welcome template: %w", err)
	}

	textBody := fmt.Sprintf("Welcome to selfscope!\n\nThanks for signing up. Add your sources here: %s", data.SourcesURL)

	return buf.String(), textBody, nil
}

var verifyTemplate = template.Must(template.New("verify_email").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Verify your email</title>
</head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; margin: 0; padding: 0; background-color: #f5f5f5;">
<table role="presentation" style="width: 100%; border: 0; cellpadding: 0; cellspacing: 0;">
<tr><td style="padding: 40px 0; text-align: center;">
<table role="presentation" style="max-width: 480px; margin: 0 auto; background: #ffffff; border-radius: 8px; overflow: hidden; box-shadow: 0 1px 3px rgba(0,0,0,0.1);">
<tr><td style="padding: 32px 40px; text-align: center;">
<h1 style="margin: 0 0 16px; font-size: 24px; color: #1a1a1a;">Verify your email</h1>
<p style="margin: 0 0 24px; color: #666; font-size: 15px; line-height: 1.5;">
Click the button below to confirm this address. This link expires in 24 hours.
</p>
<a href="{{.VerifyURL}}" style="display: inline-block; padding: 12px 32px; background: #2563eb; color: #ffffff; text-decoration: none; border-radius: 6px; font-size: 15px; font-weight: 500;">
Verify Email
</a>
<p style="margin: 24px 0 0; color: #999; font-size: 13px; line-height: 1.5;">
If you didn't create a selfscope account, you can safely ignore this email.
</p>
</td></tr>
</table>
</td></tr>
</table>
</body>
</html>`))

// VerifyData holds template data for the verification email.
type VerifyData struct {
	VerifyURL string
}

// RenderVerifyEmail renders the email verification email.
func RenderVerifyEmail(data VerifyData) (html, text string, err error) {
	var buf bytes.Buffer
	if err := verifyTemplate.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("render verify template: %w", err)
	}

	textBody := fmt.Sprintf("Verify your selfscope email\n\nConfirm this address: %s\n\nThis link expires in 24 hours. If you didn't create an account, ignore this email.", data.VerifyURL)

	return buf.String(), textBody, nil
}

// RenderFeedbackNotification renders the operator notification for new
// feedback as plain text.
func RenderFeedbackNotification(userEmail, feedback, page string) string {
	if userEmail == "" {
		userEmail = "Anonymous"
	}
	return fmt.Sprintf("New feedback was submitted:\n\nUser: %s\nFeedback: %s\nPage: %s", userEmail, feedback, page)
}
