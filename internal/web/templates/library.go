// Package templates renders the HTML pages of the web interface
package templates

import (
	"context"
	"fmt"
	"io"
	"strings"

	"comic-offline/internal/storage"
	"comic-offline/pkg/models"

	"github.com/a-h/templ"
)

// OfflineURL maps a local reference to the HTTP path that serves it
func OfflineURL(ref string) string {
	return "/offline/" + strings.TrimLeft(strings.TrimPrefix(ref, storage.RefScheme), "/")
}

// Base wraps body in the page layout
func Base(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := fmt.Fprintf(w, `<!DOCTYPE html><html lang="en"><head><meta charset="utf-8"><meta name="viewport" content="width=device-width, initial-scale=1"><title>%s</title></head><body><main>`,
			templ.EscapeString(title)); err != nil {
			return err
		}
		if err := body.Render(ctx, w); err != nil {
			return err
		}
		_, err := io.WriteString(w, `</main></body></html>`)
		return err
	})
}

// Library lists the downloaded collections and the most recent download jobs
func Library(collections []models.CollectionSummary, jobs []*models.Job) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder

		b.WriteString(`<section id="collections"><h1>Library</h1>`)
		if len(collections) == 0 {
			b.WriteString(`<p class="empty">No downloaded collections</p>`)
		} else {
			b.WriteString(`<ul>`)
			for _, c := range collections {
				b.WriteString(`<li class="collection">`)
				if storage.IsLocalRef(c.PosterURL) {
					fmt.Fprintf(&b, `<img src="%s" alt="%s" loading="lazy">`,
						templ.EscapeString(OfflineURL(c.PosterURL)), templ.EscapeString(c.DisplayName))
				}
				fmt.Fprintf(&b, `<span class="name">%s</span> <span class="episodes">%d episodes</span>`,
					templ.EscapeString(c.DisplayName), c.EpisodeCount)
				b.WriteString(`</li>`)
			}
			b.WriteString(`</ul>`)
		}
		b.WriteString(`</section>`)

		b.WriteString(`<section id="downloads"><h2>Downloads</h2>`)
		if len(jobs) == 0 {
			b.WriteString(`<p class="empty">No downloads</p>`)
		} else {
			b.WriteString(`<table><thead><tr><th>Collection</th><th>Episode</th><th>Status</th><th>Progress</th></tr></thead><tbody>`)
			for _, job := range jobs {
				fmt.Fprintf(&b, `<tr class="job job-%s"><td>%s</td><td>%s</td><td>%s</td><td>%d/%d</td></tr>`,
					templ.EscapeString(string(job.Status)),
					templ.EscapeString(job.Collection.DisplayName),
					templ.EscapeString(job.Episode.EpisodeName),
					templ.EscapeString(string(job.Status)),
					job.Downloaded, job.Total)
			}
			b.WriteString(`</tbody></table>`)
		}
		b.WriteString(`</section>`)

		_, err := io.WriteString(w, b.String())
		return err
	})
}
