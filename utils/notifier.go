package utils

import (
	"bytes"
	"html/template"

	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"

	"quorum/config"
)

// Notifier emails group members when a question completes. Delivery is best
// effort: a failed send is logged and never fails the close.
type Notifier struct {
	cfg config.SMTPConfig
	log *logrus.Logger
}

func NewNotifier(cfg config.SMTPConfig, log *logrus.Logger) *Notifier {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Notifier{cfg: cfg, log: log}
}

// CompletionEmail carries the final standing of a completed question.
type CompletionEmail struct {
	QuestionID    uint
	Title         string
	GroupName     string
	Method        string
	ResultSummary string
	Rows          []CompletionRow
}

// CompletionRow is one line of the final tally (an option, or a yes/no/abstain
// counter).
type CompletionRow struct {
	Label string
	Count int
}

var completionTemplate = template.Must(template.New("completion").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #333;">
    <h2>Voting closed: {{.Title}}</h2>
    <p>The question in <strong>{{.GroupName}}</strong> was completed ({{.Method}}).</p>
    <p><strong>{{.ResultSummary}}</strong></p>
    <table cellpadding="4">
    {{range .Rows}}
        <tr><td>{{.Label}}</td><td>{{.Count}}</td></tr>
    {{end}}
    </table>
</body>
</html>`))

// SendCompletion sends the completion event to the given recipients. With no
// SMTP host configured it is a no-op.
func (n *Notifier) SendCompletion(data CompletionEmail, recipients []string) {
	if n.cfg.Host == "" || len(recipients) == 0 {
		return
	}

	var body bytes.Buffer
	if err := completionTemplate.Execute(&body, data); err != nil {
		n.log.WithError(err).WithField("question_id", data.QuestionID).
			Warn("Failed to render completion email")
		return
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.From)
	m.SetHeader("Bcc", recipients...)
	m.SetHeader("Subject", "Voting closed: "+data.Title)
	m.SetBody("text/html", body.String())

	d := gomail.NewDialer(n.cfg.Host, n.cfg.Port, n.cfg.Username, n.cfg.Password)
	if err := d.DialAndSend(m); err != nil {
		n.log.WithError(err).WithFields(logrus.Fields{
			"question_id": data.QuestionID,
			"recipients":  len(recipients),
		}).Warn("Failed to send completion email")
		return
	}

	n.log.WithFields(logrus.Fields{
		"question_id": data.QuestionID,
		"recipients":  len(recipients),
	}).Info("Completion email sent")
}
