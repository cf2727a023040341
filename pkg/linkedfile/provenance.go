package linkedfile

import (
	"fmt"
	"html"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"

	"github.com/leafsync/leafsync/pkg/models"
)

// Message keys, shared with the web client's translations.
const (
	KeyImportedFromURL           = "imported_from_external_provider_at_date"
	KeyImportedFromProject       = "imported_from_another_project_at_date"
	KeyImportedFromProjectOutput = "imported_from_the_output_of_another_project_at_date"
)

// English templates. {{name}} is replaced by a value and <0>...</0> marks
// the span that becomes the link.
var templates = map[string]string{
	KeyImportedFromURL:           "Imported from <0>{{shortenedUrl}}</0> at {{formattedDate}}, {{relativeDate}}",
	KeyImportedFromProject:       "Imported from <0>Another project</0>/{{sourceEntityPath}}, at {{formattedDate}}, {{relativeDate}}",
	KeyImportedFromProjectOutput: "Imported from the output of <0>Another project</0>: {{sourceOutputFilePath}}, at {{formattedDate}}, {{relativeDate}}",
}

// Link is the anchor wrapped around the marked span.
type Link struct {
	Href   string
	Target string
}

// Provenance describes where a linked file was imported from.
type Provenance struct {
	Provider   models.Provider
	MessageKey string
	Values     map[string]string
	// Link is nil when the source cannot be linked to.
	Link *Link
}

// FormatTime formats an import time as "2nd Jan 2006, 3:04 pm".
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return fmt.Sprintf("%s %s, %s", humanize.Ordinal(t.Day()), t.Format("Jan 2006"), t.Format("3:04 pm"))
}

// RelativeDate formats t relative to now, e.g. "3 days ago".
func RelativeDate(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

// RenderProvenance describes the file's source. It returns nil for files
// that are not linked or whose provider has no provenance display.
func RenderProvenance(file *models.File, now time.Time) *Provenance {
	if file == nil || file.LinkedFileData == nil {
		return nil
	}
	data := file.LinkedFileData
	values := map[string]string{
		"formattedDate": FormatTime(file.Created),
		"relativeDate":  RelativeDate(file.Created, now),
	}

	switch data.Provider {
	case models.ProviderURL:
		values["shortenedUrl"] = ShortenedURL(data.URL)
		return &Provenance{
			Provider:   data.Provider,
			MessageKey: KeyImportedFromURL,
			Values:     values,
			Link:       &Link{Href: data.URL},
		}
	case models.ProviderProjectFile:
		values["sourceEntityPath"] = dropFirst(data.SourceEntityPath)
		return &Provenance{
			Provider:   data.Provider,
			MessageKey: KeyImportedFromProject,
			Values:     values,
			Link:       sourceProjectLink(data),
		}
	case models.ProviderProjectOutputFile:
		values["sourceOutputFilePath"] = data.SourceOutputFilePath
		return &Provenance{
			Provider:   data.Provider,
			MessageKey: KeyImportedFromProjectOutput,
			Values:     values,
			Link:       sourceProjectLink(data),
		}
	}
	return nil
}

// sourceProjectLink links to the source project unless the file was
// imported from a legacy document, which has no project page.
func sourceProjectLink(data *models.LinkedFileData) *Link {
	if data.V1SourceDocID != "" {
		return nil
	}
	return &Link{Href: "/project/" + data.SourceProjectID, Target: "_blank"}
}

// dropFirst strips the leading character, the root slash of an entity path.
func dropFirst(s string) string {
	_, size := utf8.DecodeRuneInString(s)
	return s[size:]
}

// render fills the template in a single pass: values and the link
// markers are substituted once and never rescanned.
func (p *Provenance) render(escape func(string) string, open, closing string) string {
	pairs := make([]string, 0, 2*len(p.Values)+4)
	for k, v := range p.Values {
		pairs = append(pairs, "{{"+k+"}}", escape(v))
	}
	pairs = append(pairs, "<0>", open, "</0>", closing)
	return strings.NewReplacer(pairs...).Replace(templates[p.MessageKey])
}

// Text renders the English message as plain text.
func (p *Provenance) Text() string {
	return p.render(func(s string) string { return s }, "", "")
}

// HTML renders the English message with the marked span as a link, or a
// plain span when there is no link.
func (p *Provenance) HTML() string {
	open, closing := "<span>", "</span>"
	if p.Link != nil {
		open = `<a href="` + html.EscapeString(p.Link.Href) + `"`
		if p.Link.Target != "" {
			open += ` target="` + html.EscapeString(p.Link.Target) + `"`
		}
		open += ">"
		closing = "</a>"
	}
	return p.render(html.EscapeString, open, closing)
}
