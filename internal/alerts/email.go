package alerts

import (
	"bytes"
	"html/template"
)

// EmailData feeds the alert e-mail template.
type EmailData struct {
	Subject   string
	Project   string
	Brand     string
	Timestamp string
	Message   string
	AppURL    string
}

var emailTemplate = template.Must(template.New("alert").Parse(`<html>
<body style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <div style="background: #f8f9fa; padding: 20px; border-radius: 8px;">
    <h2 style="color: #2c3e50; margin-top: 0;">{{.Subject}}</h2>
    <div style="background: white; padding: 20px; border-radius: 4px; margin: 20px 0;">
      <p style="font-size: 16px; line-height: 1.6;">
        <strong>Project:</strong> {{.Project}}<br>
        <strong>Brand:</strong> {{.Brand}}<br>
        <strong>Timestamp:</strong> {{.Timestamp}}
      </p>
      <div style="background: #e3f2fd; padding: 15px; border-left: 4px solid #2196f3; margin: 15px 0;">
        <pre style="margin: 0; white-space: pre-wrap; font-family: Arial;">{{.Message}}</pre>
      </div>
    </div>
    <div style="text-align: center; margin-top: 20px;">
      <a href="{{.AppURL}}" style="background: #2196f3; color: white; padding: 12px 30px; text-decoration: none; border-radius: 4px; display: inline-block;">Open Dashboard</a>
    </div>
    <p style="color: #7f8c8d; font-size: 12px; margin-top: 20px;">
      This is an automated alert from Web Monitor.<br>You can manage alerts from the project dashboard.
    </p>
  </div>
</body>
</html>
`))

// RenderEmail renders the HTML body. Values are escaped by html/template.
func RenderEmail(data EmailData) (string, error) {
	var buf bytes.Buffer
	if err := emailTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
