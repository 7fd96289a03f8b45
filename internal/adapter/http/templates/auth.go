package templates

import (
	"context"
	"io"

	"github.com/a-h/templ"
)

// AuthForm describes the login and setup pages.
type AuthForm struct {
	Error    string
	Username string
	CSRF     string
	Version  string
}

func Login(f AuthForm) templ.Component {
	return Layout("Sign in", f.Version, credentialsForm("Sign in", "/login", "Sign in", f))
}

func Setup(f AuthForm) templ.Component {
	return Layout("Create operator", f.Version, credentialsForm(
		"Create the operator account", "/setup", "Create account", f))
}

func credentialsForm(heading, action, submit string, f AuthForm) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		p := &page{w: w}
		p.raw("<h1>")
		p.text(heading)
		p.raw("</h1>")
		if f.Error != "" {
			p.raw("<p class=\"error\" role=\"alert\">")
			p.text(f.Error)
			p.raw("</p>")
		}
		p.raw("<form method=\"post\"")
		p.attr("action", action)
		p.raw("><input type=\"hidden\" name=\"csrf_token\"")
		p.attr("value", f.CSRF)
		p.raw("><p><label>Username <input name=\"username\" autocomplete=\"username\" required")
		p.attr("value", f.Username)
		p.raw("></label></p>")
		p.raw("<p><label>Password <input type=\"password\" name=\"password\" autocomplete=\"current-password\" required></label></p>")
		p.raw("<p><button type=\"submit\">")
		p.text(submit)
		p.raw("</button></p></form>")
		return p.err
	})
}
