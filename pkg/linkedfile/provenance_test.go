package linkedfile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leafsync/leafsync/pkg/models"
)

var (
	created = time.Date(2024, 3, 2, 15, 4, 0, 0, time.UTC)
	now     = created.Add(72 * time.Hour)
)

func TestFormatTime(t *testing.T) {
	assert.Equal(t, "2nd Mar 2024, 3:04 pm", FormatTime(created))
	assert.Empty(t, FormatTime(time.Time{}))
	assert.Equal(t, "3 days ago", RelativeDate(created, now))
	assert.Empty(t, RelativeDate(time.Time{}, now))
}

func TestRenderProvenance_URL(t *testing.T) {
	url := "https://raw.githubusercontent.com/someone/some-repository/main/data/results.csv"
	file := &models.File{
		ID: "f1", Name: "results.csv", Created: created,
		LinkedFileData: &models.LinkedFileData{Provider: models.ProviderURL, URL: url},
	}

	p := RenderProvenance(file, now)
	require.NotNil(t, p)
	assert.Equal(t, KeyImportedFromURL, p.MessageKey)
	assert.Equal(t, ShortenedURL(url), p.Values["shortenedUrl"])
	require.NotNil(t, p.Link)
	assert.Equal(t, url, p.Link.Href)
	assert.Equal(t,
		"Imported from "+ShortenedURL(url)+" at 2nd Mar 2024, 3:04 pm, 3 days ago",
		p.Text())
	assert.Contains(t, p.HTML(), `<a href="`+url+`">`)
}

func TestRenderProvenance_ProjectFile(t *testing.T) {
	file := &models.File{
		ID: "f1", Name: "figure.pdf", Created: created,
		LinkedFileData: &models.LinkedFileData{
			Provider:         models.ProviderProjectFile,
			SourceProjectID:  "p2",
			SourceEntityPath: "/figures/figure.pdf",
		},
	}

	p := RenderProvenance(file, now)
	require.NotNil(t, p)
	assert.Equal(t, KeyImportedFromProject, p.MessageKey)
	assert.Equal(t, "figures/figure.pdf", p.Values["sourceEntityPath"])
	require.NotNil(t, p.Link)
	assert.Equal(t, &Link{Href: "/project/p2", Target: "_blank"}, p.Link)
	assert.Equal(t,
		`Imported from <a href="/project/p2" target="_blank">Another project</a>/figures/figure.pdf, at 2nd Mar 2024, 3:04 pm, 3 days ago`,
		p.HTML())
}

func TestRenderProvenance_LegacySourceIsPlainText(t *testing.T) {
	for _, provider := range []models.Provider{models.ProviderProjectFile, models.ProviderProjectOutputFile} {
		file := &models.File{
			ID: "f1", Name: "output.pdf", Created: created,
			LinkedFileData: &models.LinkedFileData{
				Provider:             provider,
				SourceProjectID:      "p2",
				SourceEntityPath:     "/a.pdf",
				SourceOutputFilePath: "output.pdf",
				V1SourceDocID:        "v1doc",
			},
		}
		p := RenderProvenance(file, now)
		require.NotNil(t, p, provider)
		assert.Nil(t, p.Link, provider)
		assert.Contains(t, p.HTML(), "<span>Another project</span>", provider)
	}
}

func TestRenderProvenance_ProjectOutputFile(t *testing.T) {
	file := &models.File{
		ID: "f1", Name: "output.pdf", Created: created,
		LinkedFileData: &models.LinkedFileData{
			Provider:             models.ProviderProjectOutputFile,
			SourceProjectID:      "p2",
			SourceOutputFilePath: "output.pdf",
		},
	}
	p := RenderProvenance(file, now)
	require.NotNil(t, p)
	assert.Equal(t, KeyImportedFromProjectOutput, p.MessageKey)
	assert.Equal(t,
		"Imported from the output of Another project: output.pdf, at 2nd Mar 2024, 3:04 pm, 3 days ago",
		p.Text())
}

func TestRenderProvenance_NoDisplay(t *testing.T) {
	assert.Nil(t, RenderProvenance(nil, now))
	assert.Nil(t, RenderProvenance(&models.File{ID: "f1", Name: "plain.png"}, now))
	assert.Nil(t, RenderProvenance(&models.File{
		ID: "f1", Name: "refs.bib",
		LinkedFileData: &models.LinkedFileData{Provider: models.ProviderZotero},
	}, now))
}

func TestProvenanceHTML_EscapesValues(t *testing.T) {
	file := &models.File{
		ID: "f1", Name: "x",
		LinkedFileData: &models.LinkedFileData{Provider: models.ProviderURL, URL: `https://e.com/?q="<b>"`},
	}
	p := RenderProvenance(file, now)
	require.NotNil(t, p)
	assert.NotContains(t, p.HTML(), "<b>")
	assert.Contains(t, p.HTML(), "&lt;b&gt;")
}

func TestProvenance_ValuesAreNotExpanded(t *testing.T) {
	url := "https://e.com/{{relativeDate}}/<0>x</0>"
	file := &models.File{
		ID: "f1", Name: "x", Created: created,
		LinkedFileData: &models.LinkedFileData{Provider: models.ProviderURL, URL: url},
	}
	p := RenderProvenance(file, now)
	require.NotNil(t, p)

	want := "Imported from " + url + " at 2nd Mar 2024, 3:04 pm, 3 days ago"
	for i := 0; i < 200; i++ {
		require.Equal(t, want, p.Text())
	}
	assert.Contains(t, p.HTML(), "{{relativeDate}}/&lt;0&gt;x&lt;/0&gt;</a>")
}
