// Package templates renders the HTML pages of the editor as templ
// components.
package templates

import (
	"context"
	"fmt"
	"io"

	"github.com/a-h/templ"
)

// page accumulates the first write error so component bodies read top to
// bottom.
type page struct {
	w   io.Writer
	err error
}

func (p *page) raw(s string) {
	if p.err == nil {
		_, p.err = io.WriteString(p.w, s)
	}
}

func (p *page) text(s string) {
	p.raw(templ.EscapeString(s))
}

func (p *page) textf(format string, args ...any) {
	p.text(fmt.Sprintf(format, args...))
}

func (p *page) attr(name, value string) {
	p.raw(" " + name + "=\"" + templ.EscapeString(value) + "\"")
}

func (p *page) render(ctx context.Context, c templ.Component) {
	if p.err == nil && c != nil {
		p.err = c.Render(ctx, p.w)
	}
}

const stylesheet = `
body{font-family:system-ui,sans-serif;margin:0;background:#111;color:#eee}
main{max-width:960px;margin:0 auto;padding:1.5rem}
header{display:flex;justify-content:space-between;align-items:center}
a{color:#8cf}
table{width:100%;border-collapse:collapse;margin:1rem 0}
th,td{text-align:left;padding:.35rem .5rem;border-bottom:1px solid #333}
input,button{font:inherit;padding:.3rem .6rem}
.status-ready{color:#6c6}.status-error{color:#f66}.status-stale{color:#fc6}
.error{color:#f66}
progress{width:100%}
footer{color:#777;font-size:.8rem;margin-top:2rem}
`

// Layout wraps body in the document shell.
func Layout(title, version string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		p := &page{w: w}
		p.raw("<!DOCTYPE html><html lang=\"en\"><head><meta charset=\"utf-8\">")
		p.raw("<meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">")
		p.raw("<title>")
		p.text(title)
		p.raw(" · montage</title><style>" + stylesheet + "</style></head><body><main>")
		p.render(ctx, body)
		p.raw("<footer>montage ")
		p.text(version)
		p.raw("</footer></main></body></html>")
		return p.err
	})
}

// ErrorPage is a full page for a failed navigation.
func ErrorPage(code, message, version string) templ.Component {
	body := templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		p := &page{w: w}
		p.raw("<h1>")
		p.text(code)
		p.raw("</h1><p class=\"error\">")
		p.text(message)
		p.raw("</p><p><a href=\"/\">Back to the editor</a></p>")
		return p.err
	})
	return Layout(code, version, body)
}
