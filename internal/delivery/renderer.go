package delivery

import (
	"fmt"
	"net/url"
	"time"

	"github.com/osteele/liquid"

	"github.com/ignite/repogrowth/internal/domain"
)

// DefaultSubject and DefaultBody are used when no template is configured.
const (
	DefaultSubject = `{{ repository }} digest for {{ period_start | short_date }} to {{ period_end | short_date }}`

	DefaultBody = `<h1>{{ repository | escape }}</h1>
<p>Highlights from {{ period_start | short_date }} to {{ period_end | short_date }}.</p>
{% unless has_items %}<p>Nothing new this period.</p>{% endunless %}
<ol>
{% for item in items %}<li><a href="{{ item.url }}">{{ item.title | escape }}</a>{% if item.summary != "" %}<br>{{ item.summary | escape }}{% endif %}</li>
{% endfor %}</ol>
{% if unsubscribe_url != "" %}<p><a href="{{ unsubscribe_url }}">Unsubscribe</a></p>{% endif %}`
)

// Message is one rendered digest email.
type Message struct {
	Subject string
	HTML    string
}

// Renderer turns a digest job into per-recipient messages. Templates are
// parsed once; a Renderer is safe for concurrent use.
type Renderer struct {
	subject        *liquid.Template
	body           *liquid.Template
	unsubscribeURL string
}

// NewRenderer parses the templates. Empty strings select the defaults.
// unsubscribeURL, when set, gets repository and email query parameters
// appended for each recipient.
func NewRenderer(subject, body, unsubscribeURL string) (*Renderer, error) {
	if subject == "" {
		subject = DefaultSubject
	}
	if body == "" {
		body = DefaultBody
	}

	engine := liquid.NewEngine()
	engine.RegisterFilter("short_date", func(v any) string {
		switch t := v.(type) {
		case time.Time:
			return t.UTC().Format("Jan 2, 2006")
		case string:
			if parsed, err := time.Parse(time.RFC3339, t); err == nil {
				return parsed.UTC().Format("Jan 2, 2006")
			}
			return t
		}
		return fmt.Sprint(v)
	})

	subj, err := engine.ParseString(subject)
	if err != nil {
		return nil, fmt.Errorf("%w: subject: %v", ErrTemplate, err)
	}
	bd, err := engine.ParseString(body)
	if err != nil {
		return nil, fmt.Errorf("%w: body: %v", ErrTemplate, err)
	}
	return &Renderer{subject: subj, body: bd, unsubscribeURL: unsubscribeURL}, nil
}

// Render produces the message for one recipient of job.
func (r *Renderer) Render(repo *domain.Repository, job *domain.DigestJob, recipient string) (Message, error) {
	items := make([]map[string]any, 0, len(job.Content))
	for _, c := range job.Content {
		items = append(items, map[string]any{
			"title":        c.Title,
			"url":          c.URL,
			"summary":      c.Summary,
			"published_at": c.PublishedAt,
		})
	}

	bindings := liquid.Bindings{
		"repository":      repo.Name,
		"repository_id":   repo.ID,
		"recipient":       recipient,
		"period_start":    job.PeriodStart,
		"period_end":      job.PeriodEnd.Add(-time.Second),
		"items":           items,
		"has_items":       len(items) > 0,
		"unsubscribe_url": r.unsubscribeLink(repo.ID, recipient),
	}

	subject, err := r.subject.RenderString(bindings)
	if err != nil {
		return Message{}, fmt.Errorf("%w: subject: %v", ErrTemplate, err)
	}
	html, err := r.body.RenderString(bindings)
	if err != nil {
		return Message{}, fmt.Errorf("%w: body: %v", ErrTemplate, err)
	}
	return Message{Subject: subject, HTML: html}, nil
}

func (r *Renderer) unsubscribeLink(repositoryID, recipient string) string {
	if r.unsubscribeURL == "" {
		return ""
	}
	q := url.Values{}
	q.Set("repository", repositoryID)
	q.Set("email", recipient)
	sep := "?"
	if u, err := url.Parse(r.unsubscribeURL); err == nil && u.RawQuery != "" {
		sep = "&"
	}
	return r.unsubscribeURL + sep + q.Encode()
}
